/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the ledger rules from the specific database implementation
 * (PostgreSQL or in-memory), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountNumberTaken = errors.New("account number already assigned")
)

// Reader is the read side of the ledger.
type Reader interface {
	FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error)
	FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Account, error)
	// FindTransactionsByAccountID returns every transaction naming the account, newest first.
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error)
}

// LedgerTx is a unit of work. Rows returned by LockAccounts stay locked until it ends.
//
// Writes are applied with a context detached from the caller's cancellation: once a
// write has been issued the unit always commits or rolls back as a whole.
type LedgerTx interface {
	// LockAccounts locks the named accounts in ascending number order and returns
	// copies keyed by number. Missing accounts are absent from the map.
	LockAccounts(ctx context.Context, numbers ...string) (map[string]*domain.Account, error)
	SaveAccount(ctx context.Context, account *domain.Account) error
	AppendTransaction(ctx context.Context, tx *domain.Transaction) error
}

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	Reader

	// CreateAccount inserts a new account and returns ErrAccountNumberTaken on a number collision.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// WithinTransaction runs fn in a unit of work; a nil return commits, anything else rolls back.
	WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error

	// WithinSnapshot runs fn against a transactionally consistent read view.
	WithinSnapshot(ctx context.Context, fn func(r Reader) error) error

	// FindBalanceDrift lists accounts whose stored balance differs from a replay of their log.
	FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error)

	// FindUserByID resolves an account owner for display.
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}
