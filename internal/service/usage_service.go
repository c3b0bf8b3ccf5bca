package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"go.uber.org/zap"
)

const (
	RefundReasonTimeout = "timeout"

	maxOwnerRetries = 3
	sweepBatchSize  = 100
)

// errOwnerChanged means a consolidation re-parented the usage between the
// unlocked read and the row lock.
var errOwnerChanged = errors.New("usage owner changed")

type UsageService struct {
	store repository.Store
	opts  Options
}

func NewUsageService(store repository.Store, opts Options) *UsageService {
	return &UsageService{store: store, opts: opts.withDefaults()}
}

// StartUsage debits cost credits and records a started usage in one transaction.
func (s *UsageService) StartUsage(ctx context.Context, uid, email, tool string, cost int64) (*models.UsageRecord, error) {
	if err := validateStart(uid, tool); err != nil {
		return nil, err
	}
	if cost <= 0 {
		return nil, invalidInput("cost must be positive")
	}

	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		user, err := lockUser(tx, uid, email, now)
		if err != nil {
			return err
		}
		usage, err = startPaid(tx, user, tool, cost, now)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.opts.Logger.Info("usage started",
		zap.String("uid", uid),
		zap.String("usage_id", usage.ID),
		zap.String("tool", tool),
		zap.Int64("cost", cost))
	return usage, nil
}

// StartFreeUsage consumes one action of the current free allowance window.
func (s *UsageService) StartFreeUsage(ctx context.Context, uid, email, tool string) (*models.UsageRecord, error) {
	if err := validateStart(uid, tool); err != nil {
		return nil, err
	}

	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		if _, err := lockUser(tx, uid, email, now); err != nil {
			return err
		}
		var err error
		usage, err = s.startFree(tx, uid, tool, now)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.opts.Logger.Info("free usage started",
		zap.String("uid", uid),
		zap.String("usage_id", usage.ID),
		zap.String("tool", tool),
		zap.String("week_start", usage.WeekStart))
	return usage, nil
}

// Begin picks the paid or free path for a billable action. Paid when the
// balance covers cost, free when the balance is empty and the weekly
// allowance is not used up.
func (s *UsageService) Begin(ctx context.Context, uid, email, tool string, cost int64) (*models.UsageRecord, error) {
	if err := validateStart(uid, tool); err != nil {
		return nil, err
	}
	if cost <= 0 {
		return nil, invalidInput("cost must be positive")
	}

	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		user, err := lockUser(tx, uid, email, now)
		if err != nil {
			return err
		}
		switch {
		case user.BalanceCredits >= cost:
			usage, err = startPaid(tx, user, tool, cost, now)
		case user.BalanceCredits == 0:
			usage, err = s.startFree(tx, uid, tool, now)
		default:
			err = ErrInsufficientCredits
		}
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.opts.Logger.Info("usage started",
		zap.String("uid", uid),
		zap.String("usage_id", usage.ID),
		zap.String("tool", tool),
		zap.Bool("free", usage.Free),
		zap.Int64("cost", usage.CreditsCharged))
	return usage, nil
}

// MarkSucceeded moves a started usage to succeeded. Repeating it, or calling
// it after a refund, changes nothing.
func (s *UsageService) MarkSucceeded(ctx context.Context, uid, usageID, externalJobID string) (*models.UsageRecord, error) {
	if usageID == "" {
		return nil, invalidInput("usage id is required")
	}

	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		usage, err = getOwnedUsage(tx, uid, usageID, true)
		if err != nil {
			return err
		}

		switch usage.Status {
		case models.UsageStatusSucceeded, models.UsageStatusRefunded:
			return nil
		case models.UsageStatusFailed:
			return ErrInvalidTransition
		}

		usage.Status = models.UsageStatusSucceeded
		if externalJobID != "" {
			usage.ExternalJobID = externalJobID
		}
		usage.UpdatedAt = now
		return tx.SaveUsage(usage)
	})
	if err != nil {
		return nil, storeError(err)
	}
	return usage, nil
}

// MarkFailed moves a started usage to failed, refunding it in the same
// transaction when refund is set. A refunded usage is left alone.
func (s *UsageService) MarkFailed(ctx context.Context, uid, usageID, reason string, refund bool) (*models.UsageRecord, error) {
	if usageID == "" {
		return nil, invalidInput("usage id is required")
	}

	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.withOwnerLock(ctx, uid, usageID, func(tx repository.Tx, user *models.BillingUser, u *models.UsageRecord) error {
		usage = u
		switch u.Status {
		case models.UsageStatusRefunded:
			return nil
		case models.UsageStatusSucceeded:
			return ErrInvalidTransition
		case models.UsageStatusStarted:
			u.Status = models.UsageStatusFailed
			u.FailureReason = reason
			u.UpdatedAt = now
		}
		if refund {
			return s.refundLocked(tx, user, u, reason, now)
		}
		return tx.SaveUsage(u)
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.opts.Logger.Info("usage failed",
		zap.String("uid", usage.UID),
		zap.String("usage_id", usageID),
		zap.String("reason", reason),
		zap.Bool("refunded", usage.Status == models.UsageStatusRefunded))
	return usage, nil
}

// RefundUsage returns the credits charged for a usage. Free usage gives its
// action back to the allowance window instead.
func (s *UsageService) RefundUsage(ctx context.Context, uid, usageID, reason string) (*models.UsageRecord, error) {
	if usageID == "" {
		return nil, invalidInput("usage id is required")
	}

	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.withOwnerLock(ctx, uid, usageID, func(tx repository.Tx, user *models.BillingUser, u *models.UsageRecord) error {
		usage = u
		return s.refundLocked(tx, user, u, reason, now)
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.opts.Logger.Info("usage refunded",
		zap.String("uid", usage.UID),
		zap.String("usage_id", usageID),
		zap.String("reason", reason),
		zap.Int64("credits", usage.CreditsCharged))
	return usage, nil
}

func (s *UsageService) ListUsage(ctx context.Context, uid string, limit int) ([]models.UsageRecord, error) {
	if uid == "" {
		return nil, invalidInput("uid is required")
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	var out []models.UsageRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListUsage(uid, limit)
		return err
	})
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// SweepStale refunds usage that stayed started for longer than timeout.
// It returns how many records were refunded.
func (s *UsageService) SweepStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := s.opts.now().Add(-timeout)
	stale, err := s.store.ListStaleUsage(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, storeError(err)
	}

	refunded := 0
	for _, u := range stale {
		ok, err := s.expire(ctx, u.ID, cutoff)
		if err != nil {
			if ctx.Err() != nil {
				return refunded, ctx.Err()
			}
			s.opts.Logger.Warn("stale usage refund failed",
				zap.String("usage_id", u.ID),
				zap.Error(storeError(err)))
			continue
		}
		if ok {
			refunded++
		}
	}
	return refunded, nil
}

// expire refunds one usage with reason timeout if, under its locks, it is
// still started and older than cutoff. The list it came from is unlocked.
func (s *UsageService) expire(ctx context.Context, usageID string, cutoff time.Time) (bool, error) {
	now := s.opts.now()
	var usage *models.UsageRecord
	err := s.withOwnerLock(ctx, "", usageID, func(tx repository.Tx, user *models.BillingUser, u *models.UsageRecord) error {
		if u.Status != models.UsageStatusStarted || !u.CreatedAt.Before(cutoff) {
			return nil
		}
		usage = u
		return s.refundLocked(tx, user, u, RefundReasonTimeout, now)
	})
	if err != nil || usage == nil {
		return false, err
	}

	s.opts.Logger.Info("stale usage refunded",
		zap.String("uid", usage.UID),
		zap.String("usage_id", usageID),
		zap.Int64("credits", usage.CreditsCharged))
	return true, nil
}

// withOwnerLock locks the owning user before the usage row so refunds
// take locks in the same order as purchases and consolidations.
func (s *UsageService) withOwnerLock(ctx context.Context, uid, usageID string, fn func(tx repository.Tx, user *models.BillingUser, usage *models.UsageRecord) error) error {
	var err error
	for attempt := 0; attempt < maxOwnerRetries; attempt++ {
		err = s.store.Transaction(ctx, func(tx repository.Tx) error {
			peek, err := getOwnedUsage(tx, uid, usageID, false)
			if err != nil {
				return err
			}
			user, err := tx.GetUserForUpdate(peek.UID)
			if errors.Is(err, repository.ErrNotFound) {
				// merged away between the peek and the lock
				return errOwnerChanged
			}
			if err != nil {
				return err
			}
			usage, err := tx.GetUsageForUpdate(usageID)
			if err != nil {
				return err
			}
			if usage.UID != peek.UID {
				return errOwnerChanged
			}
			return fn(tx, user, usage)
		})
		if !errors.Is(err, errOwnerChanged) {
			return err
		}
	}
	return err
}

func (s *UsageService) refundLocked(tx repository.Tx, user *models.BillingUser, usage *models.UsageRecord, reason string, now time.Time) error {
	if usage.Status == models.UsageStatusRefunded {
		return ErrAlreadyRefunded
	}

	switch {
	case usage.CreditsCharged > 0:
		if _, err := appendLedger(tx, user, usage.CreditsCharged, models.LedgerReasonRefund, usage.ID, reason, now); err != nil {
			return err
		}
	case usage.Free:
		fu, err := tx.GetFreeUsage(usage.UID, usage.WeekStart)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		case fu.Used > 0:
			fu.Used--
			fu.UpdatedAt = now
			if err := tx.SaveFreeUsage(fu); err != nil {
				return err
			}
		}
	}

	usage.Status = models.UsageStatusRefunded
	usage.RefundReason = reason
	usage.UpdatedAt = now
	return tx.SaveUsage(usage)
}

func (s *UsageService) startFree(tx repository.Tx, uid, tool string, now time.Time) (*models.UsageRecord, error) {
	week := weekKey(now)
	fu, err := tx.GetFreeUsage(uid, week)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		fu = &models.FreeUsage{UID: uid, WeekStart: week}
	case err != nil:
		return nil, err
	}
	if fu.Used >= s.opts.FreeWeeklyActions {
		return nil, ErrReadOnly
	}
	fu.Used++
	fu.UpdatedAt = now
	if err := tx.SaveFreeUsage(fu); err != nil {
		return nil, err
	}

	usage := &models.UsageRecord{
		ID:        uuid.NewString(),
		UID:       uid,
		Tool:      tool,
		Status:    models.UsageStatusStarted,
		Free:      true,
		WeekStart: week,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.CreateUsage(usage); err != nil {
		return nil, err
	}
	return usage, nil
}

func startPaid(tx repository.Tx, user *models.BillingUser, tool string, cost int64, now time.Time) (*models.UsageRecord, error) {
	if user.BalanceCredits < cost {
		return nil, ErrInsufficientCredits
	}

	usage := &models.UsageRecord{
		ID:             uuid.NewString(),
		UID:            user.UID,
		Tool:           tool,
		Status:         models.UsageStatusStarted,
		CreditsCharged: cost,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := appendLedger(tx, user, -cost, models.LedgerReasonUsage, usage.ID, tool, now); err != nil {
		return nil, err
	}
	if err := tx.CreateUsage(usage); err != nil {
		return nil, err
	}
	return usage, nil
}

// getOwnedUsage loads a usage and checks that uid owns it. An empty uid
// skips the check.
func getOwnedUsage(tx repository.Tx, uid, usageID string, forUpdate bool) (*models.UsageRecord, error) {
	get := tx.GetUsage
	if forUpdate {
		get = tx.GetUsageForUpdate
	}
	usage, err := get(usageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if uid != "" && usage.UID != uid {
		return nil, ErrForbidden
	}
	return usage, nil
}

func validateStart(uid, tool string) error {
	if uid == "" {
		return invalidInput("uid is required")
	}
	if tool == "" {
		return invalidInput("tool is required")
	}
	return nil
}
