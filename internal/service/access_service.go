package service

import (
	"context"
	"errors"

	"github.com/sefazor/portfolio-billing/internal/repository"
	"go.uber.org/zap"
)

type AccessMode string

const (
	AccessReadWrite AccessMode = "readwrite"
	AccessReadOnly  AccessMode = "readonly"
)

// ReasonUnpaid accompanies AccessReadOnly. ReasonFreeWeek marks readwrite
// access that rests only on the free allowance.
const (
	ReasonFreeWeek = "free_week"
	ReasonUnpaid   = "unpaid"
)

type AccessResult struct {
	Mode           AccessMode `json:"mode"`
	Reason         string     `json:"reason,omitempty"`
	WeekStart      string     `json:"week_start"`
	BalanceCredits int64      `json:"balance_credits"`
	FreeRemaining  int        `json:"free_remaining"`
}

type AccessService struct {
	store repository.Store
	opts  Options
}

func NewAccessService(store repository.Store, opts Options) *AccessService {
	return &AccessService{store: store, opts: opts.withDefaults()}
}

// CheckAccess reports whether uid may perform billable actions right now.
// It never writes; unknown users are treated as a fresh free-tier user.
func (s *AccessService) CheckAccess(ctx context.Context, uid, email string) (*AccessResult, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}

	week := weekKey(s.opts.now())
	var (
		balance  int64
		freeUsed int
	)
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		user, err := tx.GetUser(uid)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		balance = user.BalanceCredits

		fu, err := tx.GetFreeUsage(uid, week)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		default:
			freeUsed = fu.Used
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	res := evaluateAccess(balance, freeUsed, s.opts.FreeWeeklyActions)
	res.WeekStart = week
	if res.Mode == AccessReadOnly {
		s.opts.Logger.Debug("access denied",
			zap.String("uid", uid),
			zap.String("email", email),
			zap.String("reason", res.Reason))
	}
	return res, nil
}

func evaluateAccess(balance int64, freeUsed, allowance int) *AccessResult {
	remaining := allowance - freeUsed
	if remaining < 0 {
		remaining = 0
	}
	res := &AccessResult{
		Mode:           AccessReadWrite,
		BalanceCredits: balance,
		FreeRemaining:  remaining,
	}
	switch {
	case balance > 0:
	case remaining > 0:
		res.Reason = ReasonFreeWeek
	default:
		res.Mode = AccessReadOnly
		res.Reason = ReasonUnpaid
	}
	return res
}
