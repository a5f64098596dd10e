/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application layer, and writing the HTTP response. They act as the
 * bridge between the web layer and the ledger logic.
 *
 * @notes
 * - Amounts travel as major-unit decimals ("500", "12.50") and are converted to
 *   minor units before reaching the ledger. Responses render two decimal places.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain: For ledger logic, models, and error kinds.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cuz/ledger-service/internal/app"
	"github.com/cuz/ledger-service/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	historyDateLayout = "January 2, 2006"
	historyTimeLayout = "03:04:05 PM"

	maxRequestBodyBytes = 64 << 10
)

// LedgerHandlers holds the application components that handlers will use.
type LedgerHandlers struct {
	ledger   *app.Ledger
	history  *app.HistoryReporter
	accounts *app.AccountOpener
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(ledger *app.Ledger, history *app.HistoryReporter, accounts *app.AccountOpener) *LedgerHandlers {
	return &LedgerHandlers{ledger: ledger, history: history, accounts: accounts}
}

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}

type depositRequest struct {
	AccountNumber string          `json:"accountNumber"`
	Amount        json.RawMessage `json:"amount"`
	Description   string          `json:"description"`
}

type transferRequest struct {
	FromAccountNumber string          `json:"fromAccountNumber"`
	ToAccountNumber   string          `json:"toAccountNumber"`
	Amount            json.RawMessage `json:"amount"`
	Description       string          `json:"description"`
}

type openAccountRequest struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
}

type depositTransactionView struct {
	TransactionID string      `json:"transactionId"`
	To            string      `json:"to"`
	Amount        json.Number `json:"amount"`
	Type          string      `json:"type"`
	Description   string      `json:"description"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type accountBalanceView struct {
	AccountNumber string      `json:"accountNumber"`
	Balance       json.Number `json:"balance"`
	Type          string      `json:"type"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

type depositResponse struct {
	Message     string                 `json:"message"`
	Transaction depositTransactionView `json:"transaction"`
	Account     accountBalanceView     `json:"account"`
}

type transferSummaryView struct {
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Timestamp   time.Time   `json:"timestamp"`
}

type transferFromView struct {
	AccountNumber      string      `json:"accountNumber"`
	RemainingBalance   json.Number `json:"remainingBalance"`
	AccountType        string      `json:"accountType"`
	AccountHolderName  string      `json:"accountHolderName"`
	AccountHolderEmail string      `json:"accountHolderEmail"`
}

type transferToView struct {
	AccountNumber      string      `json:"accountNumber"`
	NewBalance         json.Number `json:"newBalance"`
	AccountType        string      `json:"accountType"`
	AccountHolderName  string      `json:"accountHolderName"`
	AccountHolderEmail string      `json:"accountHolderEmail"`
}

type transactionPartyRef struct {
	AccountNumber     string `json:"accountNumber"`
	AccountHolderName string `json:"accountHolderName"`
}

type transferTransactionView struct {
	TransactionID string              `json:"transactionId"`
	From          transactionPartyRef `json:"from"`
	To            transactionPartyRef `json:"to"`
	Amount        json.Number         `json:"amount"`
	Type          string              `json:"type"`
	Description   string              `json:"description"`
	CreatedAt     time.Time           `json:"createdAt"`
}

type transferResponse struct {
	Message     string                  `json:"message"`
	Transfer    transferSummaryView     `json:"transfer"`
	FromAccount transferFromView        `json:"fromAccount"`
	ToAccount   transferToView          `json:"toAccount"`
	Transaction transferTransactionView `json:"transaction"`
}

type historyPartyView struct {
	AccountNumber      string `json:"accountNumber"`
	AccountType        string `json:"accountType"`
	AccountHolderName  string `json:"accountHolderName"`
	AccountHolderEmail string `json:"accountHolderEmail"`
}

type historyEntryView struct {
	TransactionID   string            `json:"transactionId"`
	Type            string            `json:"type"`
	Amount          json.Number       `json:"amount"`
	Description     string            `json:"description"`
	Date            time.Time         `json:"date"`
	FormattedDate   string            `json:"formattedDate"`
	FormattedTime   string            `json:"formattedTime"`
	DateTimeString  string            `json:"dateTimeString"`
	Direction       string            `json:"direction"`
	TransferSummary *string           `json:"transferSummary"`
	From            *historyPartyView `json:"from"`
	To              *historyPartyView `json:"to"`
	Status          string            `json:"status"`
}

type historyAccountView struct {
	AccountNumber      string      `json:"accountNumber"`
	AccountType        string      `json:"accountType"`
	AccountHolderName  string      `json:"accountHolderName"`
	AccountHolderEmail string      `json:"accountHolderEmail"`
	CurrentBalance     json.Number `json:"currentBalance"`
}

type historySummaryView struct {
	TotalTransactions    int         `json:"totalTransactions"`
	OutgoingTransfers    int         `json:"outgoingTransfers"`
	IncomingTransactions int         `json:"incomingTransactions"`
	TotalAmountSent      json.Number `json:"totalAmountSent"`
	TotalAmountReceived  json.Number `json:"totalAmountReceived"`
}

type historyResponse struct {
	Message              string             `json:"message"`
	Account              historyAccountView `json:"account"`
	Summary              historySummaryView `json:"summary"`
	OutgoingTransfers    []historyEntryView `json:"outgoingTransfers"`
	IncomingTransactions []historyEntryView `json:"incomingTransactions"`
	OtherTransactions    []historyEntryView `json:"otherTransactions"`
	AllTransactions      []historyEntryView `json:"allTransactions"`
}

type accountView struct {
	AccountNumber      string      `json:"accountNumber"`
	AccountType        string      `json:"accountType"`
	Balance            json.Number `json:"balance"`
	AccountHolderName  string      `json:"accountHolderName"`
	AccountHolderEmail string      `json:"accountHolderEmail"`
}

type openedAccountView struct {
	ID            string      `json:"id"`
	AccountNumber string      `json:"accountNumber"`
	UserID        string      `json:"userId"`
	Type          string      `json:"type"`
	Balance       json.Number `json:"balance"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// DepositHandler handles requests to credit an account.
func (h *LedgerHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	result, err := h.ledger.Deposit(r.Context(), domain.DepositRequest{
		AccountNumber: req.AccountNumber,
		Amount:        amount,
		Description:   strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, depositResponse{
		Message: "Deposit successful.",
		Transaction: depositTransactionView{
			TransactionID: result.Transaction.ID.String(),
			To:            result.Account.Number,
			Amount:        amountJSON(result.Transaction.Amount),
			Type:          string(result.Transaction.Type),
			Description:   result.Transaction.Description,
			CreatedAt:     result.Transaction.CreatedAt,
		},
		Account: accountBalanceView{
			AccountNumber: result.Account.Number,
			Balance:       amountJSON(result.Account.Balance),
			Type:          string(result.Account.Type),
			UpdatedAt:     result.Account.UpdatedAt,
		},
	})
}

// TransferHandler handles requests to move funds between two accounts.
func (h *LedgerHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	amount, err := domain.ParseAmount(string(req.Amount))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	result, err := h.ledger.Transfer(r.Context(), domain.TransferRequest{
		FromAccountNumber: req.FromAccountNumber,
		ToAccountNumber:   req.ToAccountNumber,
		Amount:            amount,
		Description:       strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	from, to, tx := result.FromAccount, result.ToAccount, result.Transaction
	writeJSON(w, http.StatusOK, transferResponse{
		Message: "Transfer successful.",
		Transfer: transferSummaryView{
			Amount:      amountJSON(result.Transfer.Amount),
			Description: result.Transfer.Description,
			Timestamp:   result.Transfer.Timestamp,
		},
		FromAccount: transferFromView{
			AccountNumber:      from.AccountNumber,
			RemainingBalance:   amountJSON(from.Balance),
			AccountType:        string(from.AccountType),
			AccountHolderName:  from.Holder.Name,
			AccountHolderEmail: from.Holder.Email,
		},
		ToAccount: transferToView{
			AccountNumber:      to.AccountNumber,
			NewBalance:         amountJSON(to.Balance),
			AccountType:        string(to.AccountType),
			AccountHolderName:  to.Holder.Name,
			AccountHolderEmail: to.Holder.Email,
		},
		Transaction: transferTransactionView{
			TransactionID: tx.ID.String(),
			From:          transactionPartyRef{AccountNumber: from.AccountNumber, AccountHolderName: from.Holder.Name},
			To:            transactionPartyRef{AccountNumber: to.AccountNumber, AccountHolderName: to.Holder.Name},
			Amount:        amountJSON(tx.Amount),
			Type:          string(tx.Type),
			Description:   tx.Description,
			CreatedAt:     tx.CreatedAt,
		},
	})
}

// TransactionHistoryHandler returns the classified history of one account.
func (h *LedgerHandlers) TransactionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.history.History(r.Context(), chi.URLParam(r, "accountNumber"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Message: "Transaction history retrieved successfully",
		Account: historyAccountView{
			AccountNumber:      report.Account.AccountNumber,
			AccountType:        string(report.Account.AccountType),
			AccountHolderName:  report.Account.Holder.Name,
			AccountHolderEmail: report.Account.Holder.Email,
			CurrentBalance:     amountJSON(report.Account.CurrentBalance),
		},
		Summary: historySummaryView{
			TotalTransactions:    report.Summary.TotalTransactions,
			OutgoingTransfers:    report.Summary.OutgoingTransfers,
			IncomingTransactions: report.Summary.IncomingTransactions,
			TotalAmountSent:      amountJSON(report.Summary.TotalAmountSent),
			TotalAmountReceived:  amountJSON(report.Summary.TotalAmountReceived),
		},
		OutgoingTransfers:    historyEntryViews(report.OutgoingTransfers),
		IncomingTransactions: historyEntryViews(report.IncomingTransactions),
		OtherTransactions:    historyEntryViews(report.OtherTransactions),
		AllTransactions:      historyEntryViews(report.AllTransactions),
	})
}

// GetAccountHandler returns one account's balance and holder.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.Find(r.Context(), chi.URLParam(r, "accountNumber"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView{
		AccountNumber:      view.AccountNumber,
		AccountType:        string(view.AccountType),
		Balance:            amountJSON(view.Balance),
		AccountHolderName:  view.Holder.Name,
		AccountHolderEmail: view.Holder.Email,
	})
}

// OpenAccountHandler opens an empty account for a user. Called by the user service.
func (h *LedgerHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		writeBadRequest(w, "Invalid user ID format")
		return
	}
	accountType, ok := domain.ParseAccountType(req.Type)
	if !ok {
		writeBadRequest(w, "Unsupported account type")
		return
	}

	account, err := h.accounts.Open(r.Context(), userID, accountType)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Account created.",
		"account": openedAccountView{
			ID:            account.ID.String(),
			AccountNumber: account.Number,
			UserID:        account.UserID.String(),
			Type:          string(account.Type),
			Balance:       amountJSON(account.Balance),
			CreatedAt:     account.CreatedAt,
		},
	})
}

func historyEntryViews(entries []domain.HistoryEntry) []historyEntryView {
	views := make([]historyEntryView, 0, len(entries))
	for _, e := range entries {
		date := e.Date.UTC()
		formattedDate := date.Format(historyDateLayout)
		formattedTime := date.Format(historyTimeLayout)

		view := historyEntryView{
			TransactionID:  e.TransactionID.String(),
			Type:           string(e.Type),
			Amount:         amountJSON(e.Amount),
			Description:    e.Description,
			Date:           e.Date,
			FormattedDate:  formattedDate,
			FormattedTime:  formattedTime,
			DateTimeString: formattedDate + " at " + formattedTime,
			Direction:      string(e.Direction),
			From:           historyParty(e.From),
			To:             historyParty(e.To),
			Status:         e.Status,
		}
		if e.Summary != "" {
			summary := e.Summary
			view.TransferSummary = &summary
		}
		views = append(views, view)
	}
	return views
}

func historyParty(p *domain.HistoryParty) *historyPartyView {
	if p == nil {
		return nil
	}
	return &historyPartyView{
		AccountNumber:      p.AccountNumber,
		AccountType:        string(p.AccountType),
		AccountHolderName:  p.Holder.Name,
		AccountHolderEmail: p.Holder.Email,
	}
}

func amountJSON(minor int64) json.Number {
	return json.Number(domain.FormatAmount(minor))
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidAmount, domain.KindInvalidTransfer:
		return http.StatusBadRequest
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindAmbiguousAccountNumber:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

// writeLedgerError writes a ledger error with its kind and retry hint.
func writeLedgerError(w http.ResponseWriter, err error) {
	ledgerErr := domain.AsError(err)
	status := statusForKind(ledgerErr.Kind)

	if status >= http.StatusInternalServerError {
		log.Printf("level=error component=api msg=\"ledger request failed\" kind=%s err=%v", ledgerErr.Kind, err)
	}

	writeJSON(w, status, errorResponse{
		Error:     ledgerErr.Message,
		Kind:      string(ledgerErr.Kind),
		Retryable: ledgerErr.Retryable(),
	})
}

// decodeJSONBody reads a bounded JSON body into dst and writes the error response on failure.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Request body too large", Kind: "invalid_request"})
			return false
		}
		writeBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Kind: "invalid_request"})
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
