package service

import (
	"context"
	"errors"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"go.uber.org/zap"
)

const MaxListLimit = 200

type Reconciliation struct {
	UID            string `json:"uid"`
	BalanceCredits int64  `json:"balance_credits"`
	LedgerSum      int64  `json:"ledger_sum"`
	Consistent     bool   `json:"consistent"`
}

// LedgerService serves read-only views of balances and ledger history.
type LedgerService struct {
	store repository.Store
	opts  Options
}

func NewLedgerService(store repository.Store, opts Options) *LedgerService {
	return &LedgerService{store: store, opts: opts.withDefaults()}
}

// GetUser returns the billing user. Unknown uids are ErrNotFound.
func (s *LedgerService) GetUser(ctx context.Context, uid string) (*models.BillingUser, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}
	var user *models.BillingUser
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		user, err = tx.GetUser(uid)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return user, nil
}

// ListEntries returns the newest ledger entries first.
func (s *LedgerService) ListEntries(ctx context.Context, uid string, limit int) ([]models.LedgerEntry, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	var out []models.LedgerEntry
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListEntries(uid, limit)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// Reconcile compares the stored balance with the sum of ledger deltas.
func (s *LedgerService) Reconcile(ctx context.Context, uid string) (*Reconciliation, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}
	res := &Reconciliation{UID: uid}
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		user, err := tx.GetUser(uid)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		res.BalanceCredits = user.BalanceCredits
		res.LedgerSum, err = tx.SumEntries(uid)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	res.Consistent = res.BalanceCredits == res.LedgerSum
	if !res.Consistent {
		s.opts.Logger.Error("ledger out of balance",
			zap.String("uid", uid),
			zap.Int64("balance", res.BalanceCredits),
			zap.Int64("ledger_sum", res.LedgerSum))
	}
	return res, nil
}
