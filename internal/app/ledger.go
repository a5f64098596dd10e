/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Ledger`
 * struct executes deposits and transfers against the account store, recording every
 * movement in the transaction log inside a single unit of work.
 *
 * Key features:
 * - Validates input before any I/O (amount, references, self-transfer).
 * - Locks the accounts involved, applies the balance change and appends the
 *   transaction atomically; any failure rolls back the whole operation.
 * - Resolves holder identities and publishes a ledger event after commit. Neither
 *   step can fail an operation that has already been recorded.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For post-commit event publishing.
 */

package app

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/cuz/ledger-service/internal/store"
	"github.com/cuz/ledger-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

const (
	DefaultEventsExchange   = "ledger_events"
	defaultPublishTimeout   = 3 * time.Second
	defaultOperationTimeout = 10 * time.Second
)

// LedgerOptions tunes the engine's collaborators and time bounds.
type LedgerOptions struct {
	EventsExchange   string
	OperationTimeout time.Duration
	DirectoryTimeout time.Duration
	PublishTimeout   time.Duration
}

// Ledger provides the core business logic for money movement.
type Ledger struct {
	repo     store.Repository
	holders  holderResolver
	producer rabbitmq.Publisher
	opts     LedgerOptions
	now      func() time.Time
}

// NewLedger creates a new ledger engine. A nil directory reports every holder as
// Unknown and a nil producer skips event publishing.
func NewLedger(repo store.Repository, directory UserDirectory, producer rabbitmq.Publisher, opts LedgerOptions) *Ledger {
	if opts.EventsExchange == "" {
		opts.EventsExchange = DefaultEventsExchange
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Ledger{
		repo:     repo,
		holders:  holderResolver{directory: directory, timeout: opts.DirectoryTimeout},
		producer: producer,
		opts:     opts,
		now:      time.Now,
	}
}

// Deposit credits an account and records a deposit transaction.
func (l *Ledger) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.DepositResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	number := domain.NormalizeAccountNumber(req.AccountNumber)
	if number == "" {
		return nil, domain.ErrAccountNotFound
	}

	ctx, cancel := l.withOperationTimeout(ctx)
	defer cancel()

	var result domain.DepositResult
	err := l.repo.WithinTransaction(ctx, func(tx store.LedgerTx) error {
		locked, err := tx.LockAccounts(ctx, number)
		if err != nil {
			return err
		}
		account, ok := locked[number]
		if !ok {
			return domain.NewError(domain.KindNotFound, "account %s not found", number)
		}
		if account.Balance > math.MaxInt64-req.Amount {
			return domain.NewError(domain.KindInvalidAmount, "deposit would overflow the balance of %s", number)
		}
		// Last point at which a timeout may abort; writes below always run to commit or rollback.
		if err := ctx.Err(); err != nil {
			return err
		}

		now := l.timestamp()
		account.Balance += req.Amount
		account.UpdatedAt = now
		toID := account.ID
		record := domain.Transaction{
			ID:          uuid.New(),
			ToAccountID: &toID,
			Amount:      req.Amount,
			Type:        domain.DepositTransaction,
			Description: req.Description,
			CreatedAt:   now,
		}

		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &record); err != nil {
			return err
		}
		result = domain.DepositResult{Account: *account, Transaction: record}
		return nil
	})
	if err != nil {
		return nil, l.classify("deposit", err)
	}

	log.Printf("level=info component=ledger msg=\"deposit recorded\" transaction_id=%s account=%s amount=%d", result.Transaction.ID, number, req.Amount)
	l.publish(ctx, domain.DepositCompletedEvent, domain.LedgerEvent{
		TransactionID:   result.Transaction.ID.String(),
		TransactionType: domain.DepositTransaction,
		ToAccountNumber: number,
		Amount:          req.Amount,
		Description:     req.Description,
		OccurredAt:      result.Transaction.CreatedAt,
	})
	return &result, nil
}

// Transfer moves funds between two distinct accounts and records a transfer transaction.
func (l *Ledger) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	fromNumber := domain.NormalizeAccountNumber(req.FromAccountNumber)
	toNumber := domain.NormalizeAccountNumber(req.ToAccountNumber)
	if fromNumber == "" || toNumber == "" {
		return nil, domain.ErrMissingAccountNumber
	}
	if fromNumber == toNumber {
		return nil, domain.ErrSelfTransfer
	}

	ctx, cancel := l.withOperationTimeout(ctx)
	defer cancel()

	var source, destination domain.Account
	var record domain.Transaction
	err := l.repo.WithinTransaction(ctx, func(tx store.LedgerTx) error {
		locked, err := tx.LockAccounts(ctx, fromNumber, toNumber)
		if err != nil {
			return err
		}
		from, ok := locked[fromNumber]
		if !ok {
			return domain.NewError(domain.KindNotFound, "account %s not found", fromNumber)
		}
		to, ok := locked[toNumber]
		if !ok {
			return domain.NewError(domain.KindNotFound, "account %s not found", toNumber)
		}
		if from.Balance < req.Amount {
			return domain.ErrInsufficientFunds
		}
		if to.Balance > math.MaxInt64-req.Amount {
			return domain.NewError(domain.KindInvalidAmount, "transfer would overflow the balance of %s", toNumber)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		now := l.timestamp()
		from.Balance -= req.Amount
		from.UpdatedAt = now
		to.Balance += req.Amount
		to.UpdatedAt = now
		fromID, toID := from.ID, to.ID
		record = domain.Transaction{
			ID:            uuid.New(),
			FromAccountID: &fromID,
			ToAccountID:   &toID,
			Amount:        req.Amount,
			Type:          domain.TransferTransaction,
			Description:   req.Description,
			CreatedAt:     now,
		}

		if err := tx.SaveAccount(ctx, from); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, to); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, &record); err != nil {
			return err
		}
		source, destination = *from, *to
		return nil
	})
	if err != nil {
		return nil, l.classify("transfer", err)
	}

	log.Printf("level=info component=ledger msg=\"transfer recorded\" transaction_id=%s from=%s to=%s amount=%d", record.ID, fromNumber, toNumber, req.Amount)

	holders := l.holders.resolve(ctx, source.UserID, destination.UserID)
	description := req.Description
	if description == "" {
		description = domain.DefaultTransferDescription
	}
	result := &domain.TransferResult{
		Transfer: domain.TransferSummary{
			Amount:      req.Amount,
			Description: description,
			Timestamp:   record.CreatedAt,
		},
		FromAccount: partyView(source, holders[source.UserID]),
		ToAccount:   partyView(destination, holders[destination.UserID]),
		Transaction: record,
	}

	l.publish(ctx, domain.TransferCompletedEvent, domain.LedgerEvent{
		TransactionID:     record.ID.String(),
		TransactionType:   domain.TransferTransaction,
		FromAccountNumber: fromNumber,
		ToAccountNumber:   toNumber,
		Amount:            req.Amount,
		Description:       req.Description,
		OccurredAt:        record.CreatedAt,
	})
	return result, nil
}

func partyView(account domain.Account, holder domain.Holder) domain.PartyView {
	return domain.PartyView{
		AccountNumber: account.Number,
		AccountType:   account.Type,
		Balance:       account.Balance,
		Holder:        holder,
	}
}

func (l *Ledger) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.opts.OperationTimeout)
}

// timestamp is truncated to the precision Postgres keeps.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Truncate(time.Microsecond)
}

// classify maps a unit-of-work failure to a ledger error. Anything that is not
// already a rule violation is a store failure and nothing was written.
func (l *Ledger) classify(op string, err error) error {
	var ledgerErr *domain.Error
	if errors.As(err, &ledgerErr) && ledgerErr.Kind != domain.KindStoreFailure {
		return ledgerErr
	}
	if errors.Is(err, store.ErrAccountNotFound) {
		return domain.ErrAccountNotFound
	}
	log.Printf("level=error component=ledger msg=\"operation aborted\" op=%s err=%v", op, err)
	return domain.AsError(err)
}

// publish emits a ledger event after commit. Failures are logged and swallowed.
func (l *Ledger) publish(ctx context.Context, routingKey string, event domain.LedgerEvent) {
	event.EventID = uuid.NewString()
	event.EventType = routingKey

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.PublishTimeout)
	defer cancel()
	if err := l.producer.Publish(publishCtx, l.opts.EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"ledger event publish failed\" routing_key=%s transaction_id=%s err=%v", routingKey, event.TransactionID, err)
	}
}
