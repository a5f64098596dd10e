/**
 * @description
 * Scheduled reconciliation of stored balances against the transaction log.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/robfig/cron/v3"
)

const (
	DefaultReconcileSchedule = "@every 15m"
	reconcileRunTimeout      = 2 * time.Minute
)

// driftFinder is the part of the store the reconciler reads.
type driftFinder interface {
	FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error)
}

// Reconciler periodically replays the log and reports accounts whose balance disagrees with it.
type Reconciler struct {
	cron     *cron.Cron
	store    driftFinder
	schedule string
}

// NewReconciler creates a reconciler; an empty schedule uses DefaultReconcileSchedule.
func NewReconciler(store driftFinder, schedule string) *Reconciler {
	cronLogger := cron.PrintfLogger(log.Default())
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	return &Reconciler{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		store:    store,
		schedule: schedule,
	}
}

// Start registers the reconcile job and starts the scheduler.
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule reconcile job\" schedule=%q err=%v", r.schedule, err)
		return err
	}
	log.Printf("level=info component=reconciler msg=\"scheduled reconcile job\" schedule=%q", r.schedule)
	r.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once a running job finishes.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

// RunOnce checks every account and returns the drift it found.
func (r *Reconciler) RunOnce(ctx context.Context) []domain.BalanceDrift {
	ctx, cancel := context.WithTimeout(ctx, reconcileRunTimeout)
	defer cancel()

	drifts, err := r.store.FindBalanceDrift(ctx)
	if err != nil {
		log.Printf("level=error component=reconciler msg=\"balance replay failed\" err=%v", err)
		return nil
	}
	for _, d := range drifts {
		log.Printf("level=error component=reconciler msg=\"balance drift detected\" account=%s stored=%d replayed=%d", d.AccountNumber, d.StoredBalance, d.ReplayedBalance)
	}
	if len(drifts) == 0 {
		log.Printf("level=info component=reconciler msg=\"balances match transaction log\"")
	}
	return drifts
}
