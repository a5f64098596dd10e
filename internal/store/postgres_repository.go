/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed to read and mutate the `accounts`, `transactions`
 * and `users` tables.
 *
 * @notes
 * - Money movement runs inside a single database transaction. Account rows are
 *   locked with `SELECT ... FOR UPDATE` in ascending account-number order so two
 *   transfers sharing an account serialize instead of deadlocking.
 * - History reads use a REPEATABLE READ, READ ONLY transaction so the balance and
 *   the transaction set come from the same snapshot.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

const accountColumns = `id, account_number, user_id, account_type, balance, created_at, updated_at`

const transactionColumns = `id, from_account_id, to_account_id, amount, type, COALESCE(description, '') AS description, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindAccountByNumber retrieves an account by its exact account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return pgReader{q: r.db}.FindAccountByNumber(ctx, number)
}

// FindAccountsByIDs retrieves the accounts with the given ids. Unknown ids are skipped.
func (r *PostgresRepository) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	return pgReader{q: r.db}.FindAccountsByIDs(ctx, ids)
}

// FindTransactionsByAccountID retrieves all transactions for an account (as source or destination).
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	return pgReader{q: r.db}.FindTransactionsByAccountID(ctx, accountID)
}

// CreateAccount inserts a new account record into the database.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, account_number, user_id, account_type, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID,
		account.Number,
		account.UserID,
		string(account.Type),
		account.Balance,
		account.CreatedAt,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "accounts_account_number_key") {
			return ErrAccountNumberTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// WithinTransaction runs fn inside a database transaction.
func (r *PostgresRepository) WithinTransaction(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	detached := context.WithoutCancel(ctx)
	defer tx.Rollback(detached)

	if err := fn(&pgLedgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(detached); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// WithinSnapshot runs fn inside a read-only REPEATABLE READ transaction.
func (r *PostgresRepository) WithinSnapshot(ctx context.Context, fn func(r Reader) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(pgReader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindBalanceDrift compares every stored balance with the sum of its transactions.
func (r *PostgresRepository) FindBalanceDrift(ctx context.Context) ([]domain.BalanceDrift, error) {
	query := `
		WITH credits AS (
			SELECT to_account_id AS account_id, SUM(amount) AS total
			FROM transactions
			WHERE to_account_id IS NOT NULL
			GROUP BY to_account_id
		), debits AS (
			SELECT from_account_id AS account_id, SUM(amount) AS total
			FROM transactions
			WHERE from_account_id IS NOT NULL
			GROUP BY from_account_id
		)
		SELECT a.id, a.account_number, a.balance,
		       (COALESCE(c.total, 0) - COALESCE(d.total, 0))::bigint AS replayed
		FROM accounts a
		LEFT JOIN credits c ON c.account_id = a.id
		LEFT JOIN debits d ON d.account_id = a.id
		WHERE a.balance <> COALESCE(c.total, 0) - COALESCE(d.total, 0)
		ORDER BY a.account_number
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []domain.BalanceDrift
	for rows.Next() {
		var d domain.BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.AccountNumber, &d.StoredBalance, &d.ReplayedBalance); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// FindUserByID retrieves an account owner from the users table.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, COALESCE(name, ''), COALESCE(email, '') FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Name, &user.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// pgReader serves reads from either the pool or an open snapshot transaction.
type pgReader struct {
	q querier
}

func (r pgReader) FindAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`
	account, err := scanAccount(r.q.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (r pgReader) FindAccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	accounts := make(map[uuid.UUID]domain.Account, len(ids))
	if len(ids) == 0 {
		return accounts, nil
	}
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ANY($1::uuid[])`
	rows, err := r.q.Query(ctx, query, raw)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts[account.ID] = *account
	}
	return accounts, rows.Err()
}

func (r pgReader) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC, seq DESC
	`
	rows, err := r.q.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var txType string
		err := rows.Scan(
			&tx.ID, &tx.FromAccountID, &tx.ToAccountID, &tx.Amount, &txType, &tx.Description, &tx.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		tx.Type = domain.TransactionType(txType)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// pgLedgerTx implements LedgerTx on top of an open pgx transaction.
type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) LockAccounts(ctx context.Context, numbers ...string) (map[string]*domain.Account, error) {
	locked := make(map[string]*domain.Account, len(numbers))
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1 FOR UPDATE`
	for _, number := range lockOrder(numbers) {
		account, err := scanAccount(t.tx.QueryRow(ctx, query, number))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("failed to get and lock account %s: %w", number, err)
		}
		locked[number] = account
	}
	return locked, nil
}

func (t *pgLedgerTx) SaveAccount(ctx context.Context, account *domain.Account) error {
	query := `UPDATE accounts SET balance = $2, updated_at = $3 WHERE id = $1`
	result, err := t.tx.Exec(context.WithoutCancel(ctx), query, account.ID, account.Balance, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account %s: %w", account.Number, err)
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgLedgerTx) AppendTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, from_account_id, to_account_id, amount, type, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := t.tx.Exec(context.WithoutCancel(ctx), query,
		tx.ID,
		tx.FromAccountID,
		tx.ToAccountID,
		tx.Amount,
		string(tx.Type),
		tx.Description,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	var accountType string
	err := row.Scan(
		&account.ID,
		&account.Number,
		&account.UserID,
		&accountType,
		&account.Balance,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.Type = domain.AccountType(accountType)
	return &account, nil
}

// lockOrder returns the distinct numbers in ascending order.
func lockOrder(numbers []string) []string {
	seen := make(map[string]struct{}, len(numbers))
	ordered := make([]string, 0, len(numbers))
	for _, n := range numbers {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)
	return ordered
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolationCode && (constraint == "" || pgErr.ConstraintName == constraint)
}
