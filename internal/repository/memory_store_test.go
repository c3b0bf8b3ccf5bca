package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
)

func TestMemoryTransactionRollback(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	err := store.Transaction(ctx, func(tx Tx) error {
		user, err := tx.EnsureUser("u1", "u1@example.com", now)
		if err != nil {
			return err
		}
		user.BalanceCredits = 10
		if err := tx.SaveUser(user); err != nil {
			return err
		}
		return tx.AppendEntry(&models.LedgerEntry{ID: "e1", UID: "u1", DeltaCredits: 10, Reason: models.LedgerReasonPurchase})
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	boom := errors.New("boom")
	err = store.Transaction(ctx, func(tx Tx) error {
		user, err := tx.GetUserForUpdate("u1")
		if err != nil {
			return err
		}
		user.BalanceCredits = 0
		if err := tx.SaveUser(user); err != nil {
			return err
		}
		if err := tx.AppendEntry(&models.LedgerEntry{ID: "e2", UID: "u1", DeltaCredits: -10}); err != nil {
			return err
		}
		if err := tx.EnqueueTask(&models.Task{ID: "t1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	err = store.Transaction(ctx, func(tx Tx) error {
		user, err := tx.GetUser("u1")
		if err != nil {
			return err
		}
		if user.BalanceCredits != 10 {
			t.Fatalf("Expected balance 10 after rollback, got %d", user.BalanceCredits)
		}
		sum, err := tx.SumEntries("u1")
		if err != nil {
			return err
		}
		if sum != 10 {
			t.Fatalf("Expected ledger sum 10 after rollback, got %d", sum)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read transaction failed: %v", err)
	}
	if tasks := store.Tasks(); len(tasks) != 0 {
		t.Fatalf("Expected no tasks after rollback, got %d", len(tasks))
	}
}

func TestMemoryDuplicatePurchase(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	create := func(id, event, session string) error {
		return store.Transaction(ctx, func(tx Tx) error {
			return tx.CreatePurchase(&models.Purchase{ID: id, StripeEventID: event, StripeSessionID: session, UID: "u1"})
		})
	}
	if err := create("p1", "evt_1", "cs_1"); err != nil {
		t.Fatalf("CreatePurchase failed: %v", err)
	}
	if err := create("p2", "evt_1", "cs_2"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate for event id, got %v", err)
	}
	if err := create("p3", "evt_3", "cs_1"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate for session id, got %v", err)
	}
}

func TestMemoryClaimTasksLease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	err := store.Transaction(ctx, func(tx Tx) error {
		if err := tx.EnqueueTask(&models.Task{ID: "late", Status: models.TaskPending, RunAt: now.Add(time.Minute)}); err != nil {
			return err
		}
		return tx.EnqueueTask(&models.Task{ID: "due", Status: models.TaskPending, RunAt: now})
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	claimed, err := store.ClaimTasks(ctx, now, 10, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimTasks failed: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != "due" {
		t.Fatalf("Expected only the due task, got %+v", claimed)
	}
	if claimed[0].Attempts != 1 {
		t.Fatalf("Expected 1 attempt, got %d", claimed[0].Attempts)
	}

	again, err := store.ClaimTasks(ctx, now.Add(10*time.Second), 10, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimTasks failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("Expected leased task to stay claimed, got %d", len(again))
	}

	expired, err := store.ClaimTasks(ctx, now.Add(31*time.Second), 10, 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimTasks failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "due" || expired[0].Attempts != 2 {
		t.Fatalf("Expected expired lease to be reclaimed, got %+v", expired)
	}
}

func TestMemoryReassignUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Transaction(ctx, func(tx Tx) error {
		for _, e := range []models.LedgerEntry{
			{ID: "a1", UID: "a", DeltaCredits: 5},
			{ID: "b1", UID: "b", DeltaCredits: 7},
		} {
			e := e
			if err := tx.AppendEntry(&e); err != nil {
				return err
			}
		}
		if err := tx.CreateUsage(&models.UsageRecord{ID: "ub", UID: "b"}); err != nil {
			return err
		}
		return tx.ReassignUser("b", "a")
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	_ = store.Transaction(ctx, func(tx Tx) error {
		entries, _ := tx.ListEntries("a", 0)
		if len(entries) != 2 {
			t.Fatalf("Expected 2 entries for a, got %d", len(entries))
		}
		if entries[0].ID != "b1" {
			t.Fatalf("Expected newest entry first, got %s", entries[0].ID)
		}
		if entries[0].MergedFrom != "b" || entries[1].MergedFrom != "" {
			t.Fatalf("Expected only the moved entry tagged, got %q and %q", entries[0].MergedFrom, entries[1].MergedFrom)
		}
		usages, _ := tx.ListUsage("a", 0)
		if len(usages) != 1 {
			t.Fatalf("Expected reassigned usage, got %d", len(usages))
		}
		return nil
	})
}
