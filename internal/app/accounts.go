package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/cuz/ledger-service/internal/store"
	"github.com/google/uuid"
)

const DefaultAccountNumberAttempts = 5

// AccountOpener assigns account numbers and exposes single-account lookups.
type AccountOpener struct {
	repo        store.Repository
	holders     holderResolver
	maxAttempts int
	now         func() time.Time
}

// NewAccountOpener creates an opener that retries number collisions up to maxAttempts times.
func NewAccountOpener(repo store.Repository, directory UserDirectory, directoryTimeout time.Duration, maxAttempts int) *AccountOpener {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAccountNumberAttempts
	}
	return &AccountOpener{
		repo:        repo,
		holders:     holderResolver{directory: directory, timeout: directoryTimeout},
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Open creates an empty account of the given type for userID. The generated number is
// only trusted once the store accepts it; a collision draws a fresh number.
func (o *AccountOpener) Open(ctx context.Context, userID uuid.UUID, accountType domain.AccountType) (*domain.Account, error) {
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		now := o.now().UTC().Truncate(time.Microsecond)
		account := &domain.Account{
			ID:        uuid.New(),
			Number:    domain.GenerateAccountNumber(accountType, now),
			UserID:    userID,
			Type:      accountType,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err := o.repo.CreateAccount(ctx, account)
		if err == nil {
			log.Printf("level=info component=accounts msg=\"account opened\" account=%s user_id=%s type=%s", account.Number, userID, accountType)
			return account, nil
		}
		if !errors.Is(err, store.ErrAccountNumberTaken) {
			log.Printf("level=error component=accounts msg=\"account insert failed\" user_id=%s err=%v", userID, err)
			return nil, domain.AsError(err)
		}
		log.Printf("level=warn component=accounts msg=\"account number collision\" account=%s attempt=%d", account.Number, attempt)
	}
	return nil, domain.ErrAmbiguousAccountNumber
}

// Find returns the account's current view with its holder.
func (o *AccountOpener) Find(ctx context.Context, accountNumber string) (*domain.PartyView, error) {
	number := domain.NormalizeAccountNumber(accountNumber)
	account, err := o.repo.FindAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, domain.NewError(domain.KindNotFound, "account %s not found", number)
		}
		return nil, domain.AsError(err)
	}
	holders := o.holders.resolve(ctx, account.UserID)
	view := partyView(*account, holders[account.UserID])
	return &view, nil
}
