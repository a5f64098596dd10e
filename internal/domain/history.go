package domain

import (
	"time"

	"github.com/google/uuid"
)

// Direction classifies a transaction from the queried account's point of view.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionUnknown  Direction = "unknown"
)

// CompletedStatus is the only status a logged transaction can have.
const CompletedStatus = "completed"

// HistoryParty is one endpoint of a history entry.
type HistoryParty struct {
	AccountNumber string
	AccountType   AccountType
	Holder        Holder
}

// HistoryEntry is a transaction as reported in an account's history.
type HistoryEntry struct {
	TransactionID uuid.UUID
	Type          TransactionType
	Amount        int64
	Description   string
	Date          time.Time
	Direction     Direction
	Summary       string
	From          *HistoryParty
	To            *HistoryParty
	Status        string
}

// HistorySummary aggregates the classified entries.
type HistorySummary struct {
	TotalTransactions    int
	OutgoingTransfers    int
	IncomingTransactions int
	TotalAmountSent      int64
	TotalAmountReceived  int64
}

// HistoryAccount is the queried account with its holder.
type HistoryAccount struct {
	AccountNumber  string
	AccountType    AccountType
	Holder         Holder
	CurrentBalance int64
}

// HistoryReport is the full history of one account, newest entries first.
// OutgoingTransfers, IncomingTransactions and OtherTransactions partition AllTransactions.
type HistoryReport struct {
	Account              HistoryAccount
	Summary              HistorySummary
	OutgoingTransfers    []HistoryEntry
	IncomingTransactions []HistoryEntry
	OtherTransactions    []HistoryEntry
	AllTransactions      []HistoryEntry
}
