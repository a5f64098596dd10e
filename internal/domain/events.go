package domain

import "time"

// Routing keys for events published after a ledger mutation commits.
const (
	DepositCompletedEvent  = "ledger.deposit.completed"
	TransferCompletedEvent = "ledger.transfer.completed"
)

// LedgerEvent represents the message emitted to the broker once a deposit or transfer is durable.
type LedgerEvent struct {
	EventID           string          `json:"event_id"`
	EventType         string          `json:"event_type"`
	TransactionID     string          `json:"transaction_id"`
	TransactionType   TransactionType `json:"transaction_type"`
	FromAccountNumber string          `json:"from_account_number,omitempty"`
	ToAccountNumber   string          `json:"to_account_number"`
	Amount            int64           `json:"amount"`
	Description       string          `json:"description,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}
