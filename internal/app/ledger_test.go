package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/cuz/ledger-service/internal/store"
	"github.com/google/uuid"
)

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	err    error
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return p.err
}

func (p *publisherStub) Close() {}

type directoryStub struct {
	users map[uuid.UUID]domain.User
	err   error
	delay time.Duration
}

func (d *directoryStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	user, ok := d.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &user, nil
}

type ledgerFixture struct {
	repo      *store.MemoryRepository
	ledger    *Ledger
	publisher *publisherStub
	directory *directoryStub
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	publisher := &publisherStub{}
	directory := &directoryStub{users: make(map[uuid.UUID]domain.User)}
	ledger := NewLedger(repo, directory, publisher, LedgerOptions{
		EventsExchange:   "ledger_events_test",
		DirectoryTimeout: 200 * time.Millisecond,
		PublishTimeout:   200 * time.Millisecond,
	})
	return &ledgerFixture{repo: repo, ledger: ledger, publisher: publisher, directory: directory}
}

// openAccount creates an account holding an opening balance with no log entry.
func (f *ledgerFixture) openAccount(t *testing.T, number string, balance int64, holderName string) *domain.Account {
	t.Helper()
	account := &domain.Account{
		ID:        uuid.New(),
		Number:    number,
		UserID:    uuid.New(),
		Type:      domain.PersonAccount,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	}
	if err := f.repo.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create account %s: %v", number, err)
	}
	if holderName != "" {
		f.directory.users[account.UserID] = domain.User{ID: account.UserID, Name: holderName, Email: holderName + "@example.com"}
	}
	return account
}

func (f *ledgerFixture) balance(t *testing.T, number string) int64 {
	t.Helper()
	account, err := f.repo.FindAccountByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("find account %s: %v", number, err)
	}
	return account.Balance
}

func (f *ledgerFixture) transactionCount(t *testing.T, accountID uuid.UUID) int {
	t.Helper()
	txs, err := f.repo.FindTransactionsByAccountID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("find transactions: %v", err)
	}
	return len(txs)
}

func TestDepositCreditsAccountAndRecordsTransaction(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 1000, "Alice")

	result, err := f.ledger.Deposit(context.Background(), domain.DepositRequest{AccountNumber: a.Number, Amount: 500, Description: "cash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.balance(t, a.Number); got != 1500 {
		t.Fatalf("expected balance 1500, got %d", got)
	}
	if result.Account.Balance != 1500 {
		t.Fatalf("expected result balance 1500, got %d", result.Account.Balance)
	}
	tx := result.Transaction
	if tx.Type != domain.DepositTransaction || tx.FromAccountID != nil || tx.ToAccountID == nil || *tx.ToAccountID != a.ID || tx.Amount != 500 {
		t.Fatalf("unexpected deposit transaction %+v", tx)
	}
	if got := f.transactionCount(t, a.ID); got != 1 {
		t.Fatalf("expected 1 transaction, got %d", got)
	}

	if len(f.publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(f.publisher.events))
	}
	event := f.publisher.events[0]
	if event.exchange != "ledger_events_test" || event.routingKey != domain.DepositCompletedEvent {
		t.Fatalf("unexpected event routing %+v", event)
	}
}

func TestDepositAcceptsUnnormalizedAccountNumber(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "SAV-100000001", 0, "")

	if _, err := f.ledger.Deposit(context.Background(), domain.DepositRequest{AccountNumber: "  sav-100000001 ", Amount: 25}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.balance(t, a.Number); got != 25 {
		t.Fatalf("expected balance 25, got %d", got)
	}
}

func TestDepositValidation(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 0, "")

	tests := []struct {
		name     string
		req      domain.DepositRequest
		wantKind domain.ErrorKind
	}{
		{name: "zero amount", req: domain.DepositRequest{AccountNumber: a.Number, Amount: 0}, wantKind: domain.KindInvalidAmount},
		{name: "negative amount", req: domain.DepositRequest{AccountNumber: a.Number, Amount: -5}, wantKind: domain.KindInvalidAmount},
		{name: "unknown account", req: domain.DepositRequest{AccountNumber: "PER-999999999", Amount: 5}, wantKind: domain.KindNotFound},
		{name: "empty account", req: domain.DepositRequest{AccountNumber: " ", Amount: 5}, wantKind: domain.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Deposit(context.Background(), tt.req)
			if got := domain.KindOf(err); got != tt.wantKind {
				t.Fatalf("expected kind %s, got %s (%v)", tt.wantKind, got, err)
			}
		})
	}
	if got := f.transactionCount(t, a.ID); got != 0 {
		t.Fatalf("expected no transactions, got %d", got)
	}
	if len(f.publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(f.publisher.events))
	}
}

func TestLedgerScenarios(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 1000, "Alice")
	b := f.openAccount(t, "BUS-100000002", 200, "Bob")

	// Scenario 1
	if _, err := f.ledger.Deposit(context.Background(), domain.DepositRequest{AccountNumber: a.Number, Amount: 500}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := f.balance(t, a.Number); got != 1500 {
		t.Fatalf("scenario 1: expected 1500, got %d", got)
	}

	// Scenario 2
	result, err := f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 300})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if f.balance(t, a.Number) != 1200 || f.balance(t, b.Number) != 500 {
		t.Fatalf("scenario 2: unexpected balances %d/%d", f.balance(t, a.Number), f.balance(t, b.Number))
	}
	tx := result.Transaction
	if tx.Type != domain.TransferTransaction || *tx.FromAccountID != a.ID || *tx.ToAccountID != b.ID || tx.Amount != 300 {
		t.Fatalf("scenario 2: unexpected transaction %+v", tx)
	}
	if result.FromAccount.Balance != 1200 || result.ToAccount.Balance != 500 {
		t.Fatalf("scenario 2: unexpected views %+v %+v", result.FromAccount, result.ToAccount)
	}
	if result.FromAccount.Holder.Name != "Alice" || result.ToAccount.Holder.Email != "Bob@example.com" {
		t.Fatalf("scenario 2: unexpected holders %+v %+v", result.FromAccount.Holder, result.ToAccount.Holder)
	}
	if result.Transfer.Description != domain.DefaultTransferDescription {
		t.Fatalf("scenario 2: expected default description, got %q", result.Transfer.Description)
	}

	// Scenario 3
	_, err = f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 5000})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("scenario 3: expected insufficient funds, got %v", err)
	}
	if f.balance(t, a.Number) != 1200 || f.balance(t, b.Number) != 500 {
		t.Fatalf("scenario 3: balances changed")
	}
	if got := f.transactionCount(t, a.ID); got != 2 {
		t.Fatalf("scenario 3: expected 2 transactions, got %d", got)
	}

	// Scenario 4
	_, err = f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: a.Number, Amount: 100})
	if domain.KindOf(err) != domain.KindInvalidTransfer {
		t.Fatalf("scenario 4: expected invalid transfer, got %v", err)
	}
	if f.balance(t, a.Number) != 1200 {
		t.Fatalf("scenario 4: balance changed")
	}

	// Scenario 5
	reporter := NewHistoryReporter(f.repo, f.directory, time.Second)
	report, err := reporter.History(context.Background(), a.Number)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	s := report.Summary
	if s.TotalTransactions != 2 || s.OutgoingTransfers != 1 || s.TotalAmountSent != 300 || s.IncomingTransactions != 1 || s.TotalAmountReceived != 500 {
		t.Fatalf("scenario 5: unexpected summary %+v", s)
	}
}

func TestTransferValidation(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 1000, "")
	f.openAccount(t, "PER-100000002", 0, "")

	tests := []struct {
		name     string
		req      domain.TransferRequest
		wantKind domain.ErrorKind
	}{
		{name: "zero amount", req: domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: "PER-100000002"}, wantKind: domain.KindInvalidAmount},
		{name: "missing source", req: domain.TransferRequest{ToAccountNumber: a.Number, Amount: 1}, wantKind: domain.KindInvalidTransfer},
		{name: "missing destination", req: domain.TransferRequest{FromAccountNumber: a.Number, Amount: 1}, wantKind: domain.KindInvalidTransfer},
		{name: "self transfer with different casing", req: domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: "per-100000001", Amount: 1}, wantKind: domain.KindInvalidTransfer},
		{name: "unknown source", req: domain.TransferRequest{FromAccountNumber: "PER-404", ToAccountNumber: a.Number, Amount: 1}, wantKind: domain.KindNotFound},
		{name: "unknown destination", req: domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: "PER-404", Amount: 1}, wantKind: domain.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Transfer(context.Background(), tt.req)
			if got := domain.KindOf(err); got != tt.wantKind {
				t.Fatalf("expected kind %s, got %s (%v)", tt.wantKind, got, err)
			}
		})
	}
	if got := f.balance(t, a.Number); got != 1000 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
}

func TestLedgerRollsBackAtEveryFailurePoint(t *testing.T) {
	points := []string{store.FailPointAccountSave, store.FailPointTransactionAppend, store.FailPointCommit}
	for _, point := range points {
		t.Run(point, func(t *testing.T) {
			f := newLedgerFixture(t)
			a := f.openAccount(t, "PER-100000001", 1000, "")
			b := f.openAccount(t, "PER-100000002", 100, "")

			saves := 0
			f.repo.SetFailureHook(func(p string) error {
				if p != point {
					return nil
				}
				// Fail the credit leg, after the debit has been staged.
				if p == store.FailPointAccountSave {
					saves++
					if saves < 2 {
						return nil
					}
				}
				return errors.New("injected failure at " + p)
			})

			_, err := f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 400})
			if domain.KindOf(err) != domain.KindStoreFailure {
				t.Fatalf("expected store failure, got %v", err)
			}
			var ledgerErr *domain.Error
			if !errors.As(err, &ledgerErr) || !ledgerErr.Retryable() {
				t.Fatalf("expected retryable ledger error, got %v", err)
			}
			if f.balance(t, a.Number) != 1000 || f.balance(t, b.Number) != 100 {
				t.Fatalf("expected pre-operation balances, got %d/%d", f.balance(t, a.Number), f.balance(t, b.Number))
			}
			if f.transactionCount(t, a.ID) != 0 || f.transactionCount(t, b.ID) != 0 {
				t.Fatal("expected empty transaction log")
			}
			if len(f.publisher.events) != 0 {
				t.Fatal("expected no event for a rolled back transfer")
			}

			_, err = f.ledger.Deposit(context.Background(), domain.DepositRequest{AccountNumber: b.Number, Amount: 50})
			if domain.KindOf(err) != domain.KindStoreFailure {
				t.Fatalf("expected deposit store failure, got %v", err)
			}
		})
	}
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	f := newLedgerFixture(t)
	source := f.openAccount(t, "PER-100000001", 1000, "")
	const workers = 10
	const amount = 300

	destinations := make([]*domain.Account, workers)
	for i := range destinations {
		destinations[i] = f.openAccount(t, "SAV-20000000"+string(rune('0'+i)), 0, "")
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.Transfer(context.Background(), domain.TransferRequest{
				FromAccountNumber: source.Number,
				ToAccountNumber:   destinations[i].Number,
				Amount:            amount,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientFunds):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 3 {
		t.Fatalf("expected exactly 3 transfers to succeed, got %d", succeeded)
	}
	if got := f.balance(t, source.Number); got != 100 {
		t.Fatalf("expected remaining balance 100, got %d", got)
	}

	var credited int64
	for _, d := range destinations {
		credited += f.balance(t, d.Number)
	}
	if credited != int64(succeeded*amount) {
		t.Fatalf("expected %d credited, got %d", succeeded*amount, credited)
	}
}

func TestConcurrentCrossTransfersConserveTotal(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 0, "")
	b := f.openAccount(t, "PER-100000002", 0, "")
	for _, number := range []string{a.Number, b.Number} {
		if _, err := f.ledger.Deposit(context.Background(), domain.DepositRequest{AccountNumber: number, Amount: 5000}); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 70})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: b.Number, ToAccountNumber: a.Number, Amount: 30})
		}()
	}
	wg.Wait()

	if total := f.balance(t, a.Number) + f.balance(t, b.Number); total != 10000 {
		t.Fatalf("expected total 10000, got %d", total)
	}
	drift, err := f.repo.FindBalanceDrift(context.Background())
	if err != nil {
		t.Fatalf("find drift: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("expected stored balances to match the log, got %+v", drift)
	}
}

func TestConcurrentDepositsDoNotLoseUpdates(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 0, "")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.Deposit(context.Background(), domain.DepositRequest{AccountNumber: a.Number, Amount: 10}); err != nil {
				t.Errorf("deposit: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := f.balance(t, a.Number); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	if got := f.transactionCount(t, a.ID); got != 100 {
		t.Fatalf("expected 100 transactions, got %d", got)
	}
}

func TestTransferTimeoutDuringLockAbortsWithoutWrites(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 1000, "")
	b := f.openAccount(t, "PER-100000002", 0, "")

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.repo.WithinTransaction(context.Background(), func(tx store.LedgerTx) error {
			if _, err := tx.LockAccounts(context.Background(), a.Number); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.ledger.Transfer(ctx, domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 100})
	close(release)
	<-done

	if domain.KindOf(err) != domain.KindStoreFailure {
		t.Fatalf("expected store failure on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline, got %v", err)
	}
	if f.balance(t, a.Number) != 1000 || f.balance(t, b.Number) != 0 {
		t.Fatal("expected balances unchanged after timeout")
	}
}

func TestTransferSurvivesCollaboratorFailures(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 1000, "Alice")
	b := f.openAccount(t, "PER-100000002", 0, "Bob")
	f.publisher.err = errors.New("broker down")
	f.directory.err = errors.New("directory down")

	result, err := f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 100, Description: "rent"})
	if err != nil {
		t.Fatalf("expected success despite collaborator failures, got %v", err)
	}
	if result.FromAccount.Holder != domain.UnknownHolder || result.ToAccount.Holder != domain.UnknownHolder {
		t.Fatalf("expected placeholder holders, got %+v %+v", result.FromAccount.Holder, result.ToAccount.Holder)
	}
	if result.Transfer.Description != "rent" {
		t.Fatalf("expected description rent, got %q", result.Transfer.Description)
	}
	if f.balance(t, b.Number) != 100 {
		t.Fatal("expected transfer to be committed")
	}
}

func TestTransferHolderLookupIsBounded(t *testing.T) {
	f := newLedgerFixture(t)
	a := f.openAccount(t, "PER-100000001", 1000, "Alice")
	b := f.openAccount(t, "PER-100000002", 0, "Bob")
	f.directory.delay = time.Second

	start := time.Now()
	result, err := f.ledger.Transfer(context.Background(), domain.TransferRequest{FromAccountNumber: a.Number, ToAccountNumber: b.Number, Amount: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("expected directory timeout to bound the call, took %s", elapsed)
	}
	if result.FromAccount.Holder.Name != domain.UnknownHolderValue {
		t.Fatalf("expected placeholder holder, got %+v", result.FromAccount.Holder)
	}
}

func TestReplayMatchesStoredBalances(t *testing.T) {
	f := newLedgerFixture(t)
	accounts := []*domain.Account{
		f.openAccount(t, "PER-100000001", 0, ""),
		f.openAccount(t, "PER-100000002", 0, ""),
		f.openAccount(t, "PER-100000003", 0, ""),
	}
	ctx := context.Background()
	steps := []func() error{
		func() error {
			_, err := f.ledger.Deposit(ctx, domain.DepositRequest{AccountNumber: accounts[0].Number, Amount: 900})
			return err
		},
		func() error {
			_, err := f.ledger.Transfer(ctx, domain.TransferRequest{FromAccountNumber: accounts[0].Number, ToAccountNumber: accounts[1].Number, Amount: 250})
			return err
		},
		func() error {
			_, err := f.ledger.Transfer(ctx, domain.TransferRequest{FromAccountNumber: accounts[1].Number, ToAccountNumber: accounts[2].Number, Amount: 100})
			return err
		},
		func() error {
			_, err := f.ledger.Transfer(ctx, domain.TransferRequest{FromAccountNumber: accounts[2].Number, ToAccountNumber: accounts[0].Number, Amount: 1000})
			return err
		},
	}
	for _, step := range steps {
		_ = step()
	}

	drift, err := f.repo.FindBalanceDrift(ctx)
	if err != nil {
		t.Fatalf("find drift: %v", err)
	}
	if len(drift) != 0 {
		t.Fatalf("expected no drift, got %+v", drift)
	}
	var total int64
	for _, a := range accounts {
		total += f.balance(t, a.Number)
	}
	if total != 900 {
		t.Fatalf("expected total 900 after one deposit, got %d", total)
	}
}
