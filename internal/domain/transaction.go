/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * These structs represent the ledger entities, the operation inputs and the
 * denormalized results returned to the request-handling layer.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (ngwee), which avoids floating-point inaccuracies with financial data.
 * - A Transaction is immutable once appended; the log is the audit trail.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType enumerates the kinds of money movement.
type TransactionType string

const (
	DepositTransaction  TransactionType = "deposit"
	TransferTransaction TransactionType = "transfer"
)

// DefaultTransferDescription is reported when a transfer carries no description.
const DefaultTransferDescription = "Money transfer"

// Transaction represents the ledger record for one completed money movement.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	FromAccountID *uuid.UUID      `json:"from_account_id,omitempty"` // absent for deposits
	ToAccountID   *uuid.UUID      `json:"to_account_id,omitempty"`
	Amount        int64           `json:"amount"` // in ngwee
	Type          TransactionType `json:"type"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Involves reports whether the transaction names accountID as source or destination.
func (t Transaction) Involves(accountID uuid.UUID) bool {
	return (t.FromAccountID != nil && *t.FromAccountID == accountID) ||
		(t.ToAccountID != nil && *t.ToAccountID == accountID)
}

// DepositRequest is the input to a deposit.
type DepositRequest struct {
	AccountNumber string
	Amount        int64 // in ngwee
	Description   string
}

// TransferRequest is the input to a transfer.
type TransferRequest struct {
	FromAccountNumber string
	ToAccountNumber   string
	Amount            int64 // in ngwee
	Description       string
}

// DepositResult is returned after a successful deposit.
type DepositResult struct {
	Account     Account
	Transaction Transaction
}

// TransferSummary describes the movement itself.
type TransferSummary struct {
	Amount      int64
	Description string
	Timestamp   time.Time
}

// PartyView is an account as seen after an operation, with its holder denormalized.
type PartyView struct {
	AccountNumber string
	AccountType   AccountType
	Balance       int64
	Holder        Holder
}

// TransferResult is returned after a successful transfer.
type TransferResult struct {
	Transfer    TransferSummary
	FromAccount PartyView
	ToAccount   PartyView
	Transaction Transaction
}

// User is the directory record for an account owner.
type User struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// UnknownHolderValue is the placeholder used when a holder cannot be resolved.
const UnknownHolderValue = "Unknown"

// Holder is the display identity of an account owner.
type Holder struct {
	Name  string
	Email string
}

// UnknownHolder is returned when the user directory cannot resolve an owner.
var UnknownHolder = Holder{Name: UnknownHolderValue, Email: UnknownHolderValue}

// HolderFromUser converts a directory record, filling blanks with the placeholder.
func HolderFromUser(u *User) Holder {
	if u == nil {
		return UnknownHolder
	}
	h := Holder{Name: u.Name, Email: u.Email}
	if h.Name == "" {
		h.Name = UnknownHolderValue
	}
	if h.Email == "" {
		h.Email = UnknownHolderValue
	}
	return h
}

// BalanceDrift reports an account whose cached balance disagrees with its log.
type BalanceDrift struct {
	AccountID       uuid.UUID
	AccountNumber   string
	StoredBalance   int64
	ReplayedBalance int64
}
