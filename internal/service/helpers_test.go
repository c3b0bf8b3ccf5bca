package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
)

// Wednesday; the allowance window starts on 2024-05-13.
var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

type fixture struct {
	store    *repository.MemoryStore
	clock    *testClock
	access   *AccessService
	usage    *UsageService
	purchase *PurchaseService
	admin    *AdminService
	ledger   *LedgerService
	checkout *fakeCheckout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := &testClock{now: testNow}
	opts := Options{FreeWeeklyActions: 3, Now: clock.Now}
	checkout := &fakeCheckout{}
	return &fixture{
		store:    store,
		clock:    clock,
		access:   NewAccessService(store, opts),
		usage:    NewUsageService(store, opts),
		purchase: NewPurchaseService(store, repository.NewStaticCreditPackageRepository(repository.DefaultCreditPackages()), checkout, opts),
		admin:    NewAdminService(store, opts),
		ledger:   NewLedgerService(store, opts),
		checkout: checkout,
	}
}

func (f *fixture) grant(t *testing.T, uid string, credits int64) {
	t.Helper()
	if _, err := f.admin.AdjustCredits(context.Background(), AdjustInput{
		UID:          uid,
		DeltaCredits: credits,
		Reason:       "test grant",
		AdminEmail:   "admin@example.com",
	}); err != nil {
		t.Fatalf("grant %d to %s: %v", credits, uid, err)
	}
}

func (f *fixture) buy(t *testing.T, uid, eventID string, credits int64) {
	t.Helper()
	if _, err := f.purchase.ApplyPurchase(context.Background(), PurchaseInput{
		StripeEventID:   eventID,
		StripeSessionID: "cs_" + eventID,
		UID:             uid,
		Email:           uid + "@example.com",
		USDCents:        credits * 5,
		Credits:         credits,
	}); err != nil {
		t.Fatalf("apply purchase %s: %v", eventID, err)
	}
}

func (f *fixture) balance(t *testing.T, uid string) int64 {
	t.Helper()
	user, err := f.ledger.GetUser(context.Background(), uid)
	if err != nil {
		t.Fatalf("get user %s: %v", uid, err)
	}
	return user.BalanceCredits
}

// assertReconciled checks that the balance equals the sum of ledger deltas.
func (f *fixture) assertReconciled(t *testing.T, uid string) {
	t.Helper()
	rec, err := f.ledger.Reconcile(context.Background(), uid)
	if err != nil {
		t.Fatalf("reconcile %s: %v", uid, err)
	}
	if !rec.Consistent {
		t.Fatalf("uid %s balance %d != ledger sum %d", uid, rec.BalanceCredits, rec.LedgerSum)
	}
}

func (f *fixture) tasksOfKind(kind models.TaskKind) []models.Task {
	var out []models.Task
	for _, task := range f.store.Tasks() {
		if task.Kind == kind {
			out = append(out, task)
		}
	}
	return out
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
