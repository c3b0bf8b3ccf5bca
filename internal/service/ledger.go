package service

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
)

const weekLayout = "2006-01-02"

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}

func weekKey(t time.Time) string {
	return WeekStart(t).Format(weekLayout)
}

func safeAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, invalidInput("credit amount overflows")
	}
	return a + b, nil
}

// appendLedger records delta against user and persists the new balance. The
// caller must hold the user's row lock.
func appendLedger(tx repository.Tx, user *models.BillingUser, delta int64, reason models.LedgerReason, refBy, note string, now time.Time) (*models.LedgerEntry, error) {
	next, err := safeAdd(user.BalanceCredits, delta)
	if err != nil {
		return nil, err
	}
	if next < 0 {
		return nil, ErrWouldGoNegative
	}

	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		UID:          user.UID,
		DeltaCredits: delta,
		Reason:       reason,
		RefBy:        refBy,
		Note:         note,
		BalanceAfter: next,
		CreatedAt:    now,
	}
	if err := tx.AppendEntry(entry); err != nil {
		return nil, err
	}

	user.BalanceCredits = next
	user.UpdatedAt = now
	if err := tx.SaveUser(user); err != nil {
		return nil, err
	}
	return entry, nil
}

// lockUser returns the user row locked, creating it first when absent.
func lockUser(tx repository.Tx, uid, email string, now time.Time) (*models.BillingUser, error) {
	user, err := tx.EnsureUser(uid, email, now)
	if err != nil {
		return nil, err
	}
	if user.Email == "" && email != "" {
		user.Email = email
	}
	return user, nil
}
