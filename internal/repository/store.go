package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the credit ledger store. Every ledger mutation runs inside one
// Transaction call; when fn returns an error nothing it wrote is kept.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	ListStaleUsage(ctx context.Context, startedBefore time.Time, limit int) ([]models.UsageRecord, error)

	ClaimTasks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.Task, error)
	CompleteTask(ctx context.Context, id string, now time.Time) error
	RetryTask(ctx context.Context, id string, lastErr string, runAt time.Time, dead bool) error
}

// Tx is the view of the store inside a transaction. Reads ending in
// ForUpdate hold a row lock until the transaction ends.
type Tx interface {
	GetUser(uid string) (*models.BillingUser, error)
	GetUserForUpdate(uid string) (*models.BillingUser, error)
	// EnsureUser creates the user when absent and returns it locked.
	EnsureUser(uid, email string, now time.Time) (*models.BillingUser, error)
	SaveUser(user *models.BillingUser) error
	DeleteUser(uid string) error

	AppendEntry(entry *models.LedgerEntry) error
	// ListEntries returns newest first; limit <= 0 means all.
	ListEntries(uid string, limit int) ([]models.LedgerEntry, error)
	SumEntries(uid string) (int64, error)

	CreateUsage(usage *models.UsageRecord) error
	GetUsage(id string) (*models.UsageRecord, error)
	GetUsageForUpdate(id string) (*models.UsageRecord, error)
	SaveUsage(usage *models.UsageRecord) error
	ListUsage(uid string, limit int) ([]models.UsageRecord, error)

	GetPurchaseByEventID(eventID string) (*models.Purchase, error)
	GetPurchaseBySessionID(sessionID string) (*models.Purchase, error)
	CreatePurchase(purchase *models.Purchase) error
	ListPurchases(uid string) ([]models.Purchase, error)

	GetFreeUsage(uid, weekStart string) (*models.FreeUsage, error)
	SaveFreeUsage(usage *models.FreeUsage) error
	ListFreeUsage(uid string) ([]models.FreeUsage, error)
	DeleteFreeUsage(uid, weekStart string) error

	// ReassignUser moves ledger entries, usage records and purchases. Moved
	// entries record fromUID in MergedFrom unless already set.
	ReassignUser(fromUID, toUID string) error

	EnqueueTask(task *models.Task) error
}
