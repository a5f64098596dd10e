/**
 * @description
 * This file defines the Account model held by the ledger and the rules for
 * generating account numbers.
 *
 * @notes
 * - Balances are stored as `int64` in the smallest currency unit (ngwee).
 * - Account numbers are `<PREFIX>-<unique part>`. The unique part is not
 *   guaranteed unique on its own; callers must insert and retry on conflict.
 */

package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates the kinds of account the ledger can hold.
type AccountType string

const (
	BusinessAccount AccountType = "business"
	StudentAccount  AccountType = "student"
	SavingsAccount  AccountType = "savings"
	PersonAccount   AccountType = "person"
	SchoolAccount   AccountType = "school"
)

var accountNumberPrefixes = map[AccountType]string{
	BusinessAccount: "BUS",
	StudentAccount:  "STU",
	SavingsAccount:  "SAV",
	PersonAccount:   "PER",
	SchoolAccount:   "SCH",
}

// GenericAccountPrefix is used for account types without a dedicated prefix.
const GenericAccountPrefix = "GEN"

// Account represents a named holder of a balance.
// This struct maps directly to the `accounts` table in the database.
type Account struct {
	ID        uuid.UUID   `json:"id"`
	Number    string      `json:"account_number"`
	UserID    uuid.UUID   `json:"user_id"`
	Type      AccountType `json:"account_type"`
	Balance   int64       `json:"balance"` // in ngwee
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ParseAccountType normalizes a raw account type. Unknown values are returned
// as-is with ok=false so callers can decide whether to reject them.
func ParseAccountType(raw string) (AccountType, bool) {
	t := AccountType(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := accountNumberPrefixes[t]
	return t, ok
}

// AccountNumberPrefix returns the number prefix for an account type.
func AccountNumberPrefix(t AccountType) string {
	if prefix, ok := accountNumberPrefixes[t]; ok {
		return prefix
	}
	return GenericAccountPrefix
}

// GenerateAccountNumber builds `<PREFIX>-<last 6 digits of unix millis><3 random digits>`.
func GenerateAccountNumber(t AccountType, now time.Time) string {
	millis := fmt.Sprintf("%06d", now.UnixMilli())
	timePart := millis[len(millis)-6:]
	return fmt.Sprintf("%s-%s%03d", AccountNumberPrefix(t), timePart, rand.Intn(1000))
}

// NormalizeAccountNumber trims whitespace and upper-cases the prefix.
func NormalizeAccountNumber(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
