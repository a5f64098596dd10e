package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// Failure points a MemoryRepository hook can interrupt.
const (
	FailPointAccountSave       = "account.save"
	FailPointTransactionAppend = "transaction.append"
	FailPointCommit            = "commit"
)

// FailureHook is called at each failure point inside a unit of work. A non-nil
// return aborts the unit with that error and nothing it staged becomes visible.
type FailureHook func(point string) error

type memoryTransaction struct {
	seq int64
	tx  domain.Transaction
}

// MemoryRepository is an in-process Repository. Units of work hold a lock per
// account until they end, stage their writes and publish them in one step on commit.
type MemoryRepository struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]*domain.Account
	byNumber     map[string]uuid.UUID
	transactions []memoryTransaction
	users        map[uuid.UUID]domain.User
	seq          int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	hookMu sync.RWMutex
	hook   FailureHook
}

// NewMemoryRepository creates an empty in-memory ledger store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[uuid.UUID]*domain.Account),
		byNumber: make(map[string]uuid.UUID),
		users:    make(map[uuid.UUID]domain.User),
		locks:    make(map[string]chan struct{}),
	}
}

// SetFailureHook installs hook; nil removes it.
func (r *MemoryRepository) SetFailureHook(hook FailureHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hook = hook
}

// PutUser stores a directory record.
func (r *MemoryRepository) PutUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *MemoryRepository) fail(point string) error {
	r.hookMu.RLock()
	hook := r.hook
	r.hookMu.RUnlock()
	if hook == nil {
		return nil
	}
	return hook(point)
}

func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return memoryReader{r: r}.FindAccountByNumber(ctx, number)
}

func (r *MemoryRepository) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return memoryReader{r: r}.FindAccountsByIDs(ctx, ids)
}

func (r *MemoryRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return memoryReader{r: r}.FindTransactionsByAccountID(ctx, accountID)
}

func (r *MemoryRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byNumber[account.Number]; taken {
		return ErrAccountNumberTaken
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	stored := *account
	r.accounts[stored.ID] = &stored
	r.byNumber[stored.Number] = stored.ID
	return nil
}

func (r *MemoryRepository) WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryLedgerTx{r: r, staged: make(map[uuid.UUID]domain.Account)}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := r.fail(FailPointCommit); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, account := range tx.staged {
		stored := account
		r.accounts[id] = &stored
	}
	for _, t := range tx.appended {
		r.seq++
		r.transactions = append(r.transactions, memoryTransaction{seq: r.seq, tx: t})
	}
	return nil
}

func (r *MemoryRepository) WithinSnapshot(ctx context.Context, fn func(rd Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(memoryReader{r: r})
}

func (r *MemoryRepository) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	replayed := make(map[uuid.UUID]int64, len(r.accounts))
	for _, mt := range r.transactions {
		if mt.tx.ToAccountID != nil {
			replayed[*mt.tx.ToAccountID] += mt.tx.Amount
		}
		if mt.tx.FromAccountID != nil {
			replayed[*mt.tx.FromAccountID] -= mt.tx.Amount
		}
	}

	var drifts []domain.BalanceDrift
	for _, account := range r.accounts {
		if account.Balance != replayed[account.ID] {
			drifts = append(drifts, domain.BalanceDrift{
				AccountID:       account.ID,
				AccountNumber:   account.Number,
				StoredBalance:   account.Balance,
				ReplayedBalance: replayed[account.ID],
			})
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].AccountNumber < drifts[j].AccountNumber })
	return drifts, nil
}

func (r *MemoryRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (r *MemoryRepository) accountLock(number string) chan struct{} {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	ch, ok := r.locks[number]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[number] = ch
	}
	return ch
}

// memoryReader reads without taking r.mu; callers hold it.
type memoryReader struct {
	r *MemoryRepository
}

func (m memoryReader) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	id, ok := m.r.byNumber[number]
	if !ok {
		return nil, ErrAccountNotFound
	}
	account := *m.r.accounts[id]
	return &account, nil
}

func (m memoryReader) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	accounts := make(map[uuid.UUID]domain.Account, len(ids))
	for _, id := range ids {
		if account, ok := m.r.accounts[id]; ok {
			accounts[id] = *account
		}
	}
	return accounts, nil
}

func (m memoryReader) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	var matched []memoryTransaction
	for _, mt := range m.r.transactions {
		if mt.tx.Involves(accountID) {
			matched = append(matched, mt)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].tx.CreatedAt.Equal(matched[j].tx.CreatedAt) {
			return matched[i].tx.CreatedAt.After(matched[j].tx.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	transactions := make([]domain.Transaction, 0, len(matched))
	for _, mt := range matched {
		transactions = append(transactions, mt.tx)
	}
	return transactions, nil
}

type memoryLedgerTx struct {
	r        *MemoryRepository
	held     []chan struct{}
	heldBy   map[string]bool
	locked   map[uuid.UUID]bool
	staged   map[uuid.UUID]domain.Account
	appended []domain.Transaction
}

func (t *memoryLedgerTx) LockAccounts(ctx context.Context, numbers ...string) (map[string]*domain.Account, error) {
	if t.locked == nil {
		t.locked = make(map[uuid.UUID]bool)
		t.heldBy = make(map[string]bool)
	}
	locked := make(map[string]*domain.Account, len(numbers))
	for _, number := range lockOrder(numbers) {
		t.r.mu.RLock()
		_, exists := t.r.byNumber[number]
		t.r.mu.RUnlock()
		if !exists {
			continue
		}

		if !t.heldBy[number] {
			ch := t.r.accountLock(number)
			select {
			case ch <- struct{}{}:
				t.held = append(t.held, ch)
				t.heldBy[number] = true
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		t.r.mu.RLock()
		account, err := memoryReader{r: t.r}.FindAccountByNumber(ctx, number)
		t.r.mu.RUnlock()
		if err != nil {
			return nil, err
		}
		if staged, ok := t.staged[account.ID]; ok {
			*account = staged
		}
		t.locked[account.ID] = true
		locked[number] = account
	}
	return locked, nil
}

func (t *memoryLedgerTx) SaveAccount(ctx context.Context, account *domain.Account) error {
	if !t.locked[account.ID] {
		return errors.New("account saved without holding its lock")
	}
	if err := t.r.fail(FailPointAccountSave); err != nil {
		return err
	}
	t.staged[account.ID] = *account
	return nil
}

func (t *memoryLedgerTx) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := t.r.fail(FailPointTransactionAppend); err != nil {
		return err
	}
	t.appended = append(t.appended, *tx)
	return nil
}

func (t *memoryLedgerTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
}
