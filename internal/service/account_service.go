package service

import (
	"context"
	"time"

	"github.com/digkill/PhotoForge/internal/models"
	"github.com/digkill/PhotoForge/internal/repository"
)

type AccountService struct {
	accounts *repository.AccountRepository
	now      func() time.Time
}

func NewAccountService(accounts *repository.AccountRepository) *AccountService {
	return &AccountService{accounts: accounts, now: func() time.Time { return time.Now().UTC() }}
}

// Entitlement is the snapshot the submitter decides charging and watermarking from.
type Entitlement struct {
	Credits            int
	Purchased          bool
	SubscriptionActive bool
}

// Paid reports whether the owner gets unwatermarked output without spending credits.
func (e Entitlement) Paid() bool {
	return e.Purchased || e.SubscriptionActive
}

func (s *AccountService) Entitlement(ctx context.Context, userID string) (Entitlement, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return Entitlement{}, err
	}
	if acct == nil {
		return Entitlement{}, nil
	}
	return Entitlement{
		Credits:            acct.Credits,
		Purchased:          acct.Purchased,
		SubscriptionActive: acct.SubscriptionActiveAt(s.now()),
	}, nil
}

// Get returns the owner's account, or an empty one if no payment was ever seen.
func (s *AccountService) Get(ctx context.Context, userID string) (*models.Account, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return &models.Account{UserID: userID}, nil
	}
	return acct, nil
}

func (s *AccountService) Events(ctx context.Context, userID string, limit int) ([]models.FinancialEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.accounts.ListEvents(ctx, userID, limit)
}
