package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/cuz/ledger-service/internal/store"
	"github.com/google/uuid"
)

// HistoryReporter builds read-only account histories.
type HistoryReporter struct {
	repo    store.Repository
	holders holderResolver
}

// NewHistoryReporter creates a reporter. A nil directory reports every holder as Unknown.
func NewHistoryReporter(repo store.Repository, directory UserDirectory, directoryTimeout time.Duration) *HistoryReporter {
	return &HistoryReporter{
		repo:    repo,
		holders: holderResolver{directory: directory, timeout: directoryTimeout},
	}
}

// History returns the account, its classified transactions newest first and the summary totals.
// The account, its log and the counterparties are read from one snapshot.
func (h *HistoryReporter) History(ctx context.Context, accountNumber string) (*domain.HistoryReport, error) {
	number := domain.NormalizeAccountNumber(accountNumber)
	if number == "" {
		return nil, domain.ErrAccountNotFound
	}

	var (
		account      *domain.Account
		transactions []domain.Transaction
		parties      map[uuid.UUID]domain.Account
	)
	err := h.repo.WithinSnapshot(ctx, func(r store.Reader) error {
		var err error
		account, err = r.FindAccountByNumber(ctx, number)
		if err != nil {
			return err
		}
		transactions, err = r.FindTransactionsByAccountID(ctx, account.ID)
		if err != nil {
			return err
		}
		parties, err = r.FindAccountsByIDs(ctx, counterpartyIDs(transactions))
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, domain.NewError(domain.KindNotFound, "account %s not found", number)
		}
		log.Printf("level=error component=history msg=\"history read failed\" account=%s err=%v", number, err)
		return nil, domain.AsError(err)
	}

	userIDs := []uuid.UUID{account.UserID}
	for _, party := range parties {
		userIDs = append(userIDs, party.UserID)
	}
	holders := h.holders.resolve(ctx, userIDs...)

	return buildHistoryReport(*account, transactions, parties, holders), nil
}

func counterpartyIDs(transactions []domain.Transaction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0, len(transactions))
	add := func(id *uuid.UUID) {
		if id == nil {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	for _, tx := range transactions {
		add(tx.FromAccountID)
		add(tx.ToAccountID)
	}
	return ids
}

func buildHistoryReport(
	account domain.Account,
	transactions []domain.Transaction,
	parties map[uuid.UUID]domain.Account,
	holders map[uuid.UUID]domain.Holder,
) *domain.HistoryReport {
	holderOf := func(userID uuid.UUID) domain.Holder {
		if holder, ok := holders[userID]; ok {
			return holder
		}
		return domain.UnknownHolder
	}
	partyOf := func(id *uuid.UUID) *domain.HistoryParty {
		if id == nil {
			return nil
		}
		a, ok := parties[*id]
		if !ok {
			return nil
		}
		return &domain.HistoryParty{AccountNumber: a.Number, AccountType: a.Type, Holder: holderOf(a.UserID)}
	}

	report := &domain.HistoryReport{
		Account: domain.HistoryAccount{
			AccountNumber:  account.Number,
			AccountType:    account.Type,
			Holder:         holderOf(account.UserID),
			CurrentBalance: account.Balance,
		},
		OutgoingTransfers:    make([]domain.HistoryEntry, 0),
		IncomingTransactions: make([]domain.HistoryEntry, 0),
		OtherTransactions:    make([]domain.HistoryEntry, 0),
		AllTransactions:      make([]domain.HistoryEntry, 0, len(transactions)),
	}

	for _, tx := range transactions {
		entry := domain.HistoryEntry{
			TransactionID: tx.ID,
			Type:          tx.Type,
			Amount:        tx.Amount,
			Description:   tx.Description,
			Date:          tx.CreatedAt,
			Direction:     directionOf(tx, account.ID),
			From:          partyOf(tx.FromAccountID),
			To:            partyOf(tx.ToAccountID),
			Status:        domain.CompletedStatus,
		}
		entry.Summary = entrySummary(entry)
		report.AllTransactions = append(report.AllTransactions, entry)

		switch {
		case entry.Direction == domain.DirectionOutgoing && entry.Type == domain.TransferTransaction:
			report.OutgoingTransfers = append(report.OutgoingTransfers, entry)
			report.Summary.TotalAmountSent += entry.Amount
		case entry.Direction == domain.DirectionIncoming:
			report.IncomingTransactions = append(report.IncomingTransactions, entry)
			report.Summary.TotalAmountReceived += entry.Amount
		default:
			report.OtherTransactions = append(report.OtherTransactions, entry)
		}
	}

	report.Summary.TotalTransactions = len(report.AllTransactions)
	report.Summary.OutgoingTransfers = len(report.OutgoingTransfers)
	report.Summary.IncomingTransactions = len(report.IncomingTransactions)
	return report
}

// directionOf prefers incoming, so a deposit is always incoming for the account it credits.
func directionOf(tx domain.Transaction, accountID uuid.UUID) domain.Direction {
	switch {
	case tx.ToAccountID != nil && *tx.ToAccountID == accountID:
		return domain.DirectionIncoming
	case tx.FromAccountID != nil && *tx.FromAccountID == accountID:
		return domain.DirectionOutgoing
	default:
		return domain.DirectionUnknown
	}
}

func entrySummary(entry domain.HistoryEntry) string {
	amount := "K" + domain.FormatAmount(entry.Amount)
	switch {
	case entry.Direction == domain.DirectionOutgoing && entry.Type == domain.TransferTransaction:
		name, number := partyLabel(entry.To)
		return fmt.Sprintf("Transferred %s to %s (%s)", amount, name, number)
	case entry.Direction == domain.DirectionIncoming && entry.Type == domain.TransferTransaction:
		name, number := partyLabel(entry.From)
		return fmt.Sprintf("Received %s from %s (%s)", amount, name, number)
	case entry.Type == domain.DepositTransaction:
		return fmt.Sprintf("Deposit of %s to your account", amount)
	default:
		return ""
	}
}

func partyLabel(party *domain.HistoryParty) (string, string) {
	if party == nil {
		return domain.UnknownHolderValue, domain.UnknownHolderValue
	}
	return party.Holder.Name, party.AccountNumber
}
