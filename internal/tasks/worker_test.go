package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"go.uber.org/zap"
)

var start = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func enqueue(t *testing.T, store *repository.MemoryStore, id string, kind models.TaskKind, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	err = store.Transaction(context.Background(), func(tx repository.Tx) error {
		return tx.EnqueueTask(&models.Task{ID: id, Kind: kind, Payload: raw, Status: models.TaskPending, RunAt: start})
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func taskByID(t *testing.T, store *repository.MemoryStore, id string) models.Task {
	t.Helper()
	for _, task := range store.Tasks() {
		if task.ID == id {
			return task
		}
	}
	t.Fatalf("task %s not found", id)
	return models.Task{}
}

type fakeSender struct {
	sent []models.PurchaseReceiptPayload
	err  error
}

func (f *fakeSender) SendPurchaseReceipt(p models.PurchaseReceiptPayload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) Upload(ctx context.Context, key string, r io.Reader) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func TestWorkerDeliversReceipt(t *testing.T) {
	store := repository.NewMemoryStore()
	c := &clock{now: start}
	sender := &fakeSender{}
	w := NewWorker(store, Config{Now: c.Now}, zap.NewNop())
	w.Register(models.TaskPurchaseReceipt, PurchaseReceiptProcessor(sender))

	enqueue(t, store, "t1", models.TaskPurchaseReceipt, models.PurchaseReceiptPayload{PurchaseID: "p1", Email: "u@example.com", Credits: 10})

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 || len(sender.sent) != 1 || sender.sent[0].PurchaseID != "p1" {
		t.Fatalf("expected one receipt, got n=%d sent=%+v", n, sender.sent)
	}
	if task := taskByID(t, store, "t1"); task.Status != models.TaskDone {
		t.Fatalf("expected done, got %s", task.Status)
	}

	// Nothing left to claim.
	n, err = w.RunOnce(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second run: n=%d err=%v", n, err)
	}
}

func TestWorkerRetriesWithBackoffThenDies(t *testing.T) {
	store := repository.NewMemoryStore()
	c := &clock{now: start}
	sender := &fakeSender{err: errors.New("resend down")}
	w := NewWorker(store, Config{Now: c.Now, MaxAttempts: 3, BaseBackoff: time.Minute, MaxBackoff: time.Hour}, zap.NewNop())
	w.Register(models.TaskPurchaseReceipt, PurchaseReceiptProcessor(sender))

	enqueue(t, store, "t1", models.TaskPurchaseReceipt, models.PurchaseReceiptPayload{PurchaseID: "p1", Email: "u@example.com"})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	task := taskByID(t, store, "t1")
	if task.Status != models.TaskPending || task.Attempts != 1 || !task.RunAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected task after first failure: %+v", task)
	}

	// Not due yet.
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if task := taskByID(t, store, "t1"); task.Attempts != 1 {
		t.Fatalf("task ran before its backoff elapsed: %+v", task)
	}

	c.now = start.Add(time.Minute)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	task = taskByID(t, store, "t1")
	if task.Attempts != 2 || !task.RunAt.Equal(c.now.Add(2*time.Minute)) {
		t.Fatalf("unexpected task after second failure: %+v", task)
	}

	c.now = c.now.Add(2 * time.Minute)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	task = taskByID(t, store, "t1")
	if task.Status != models.TaskDead || task.LastError != "resend down" {
		t.Fatalf("expected dead task, got %+v", task)
	}
}

func TestWorkerPermanentFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	c := &clock{now: start}
	w := NewWorker(store, Config{Now: c.Now}, zap.NewNop())
	w.Register(models.TaskPurchaseReceipt, PurchaseReceiptProcessor(&fakeSender{}))

	enqueue(t, store, "no-email", models.TaskPurchaseReceipt, models.PurchaseReceiptPayload{PurchaseID: "p1"})
	enqueue(t, store, "unknown", models.TaskKind("mystery"), map[string]string{})

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, id := range []string{"no-email", "unknown"} {
		if task := taskByID(t, store, id); task.Status != models.TaskDead {
			t.Fatalf("task %s: expected dead, got %+v", id, task)
		}
	}
}

func TestWorkerReclaimsExpiredLease(t *testing.T) {
	store := repository.NewMemoryStore()
	enqueue(t, store, "t1", models.TaskPurchaseReceipt, models.PurchaseReceiptPayload{PurchaseID: "p1", Email: "u@example.com"})

	// A worker that died mid-task leaves it running with a lease.
	if _, err := store.ClaimTasks(context.Background(), start, 10, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	c := &clock{now: start.Add(2 * time.Minute)}
	sender := &fakeSender{}
	w := NewWorker(store, Config{Now: c.Now}, zap.NewNop())
	w.Register(models.TaskPurchaseReceipt, PurchaseReceiptProcessor(sender))

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 1 || len(sender.sent) != 1 {
		t.Fatalf("expected the expired task to be redelivered, n=%d", n)
	}
}

func TestConsolidationArchive(t *testing.T) {
	store := repository.NewMemoryStore()
	c := &clock{now: start}
	objects := &fakeStorage{}
	w := NewWorker(store, Config{Now: c.Now}, zap.NewNop())
	w.Register(models.TaskConsolidationArchive, ConsolidationArchiveProcessor(objects))

	payload := models.ConsolidationArchivePayload{
		KeepUID:    "keep",
		MergeUID:   "dup",
		AdminEmail: "admin@example.com",
		MergedUser: models.BillingUser{UID: "dup", BalanceCredits: 15},
		Entries:    []models.LedgerEntry{{ID: "e1", UID: "dup", DeltaCredits: 15}},
		MergedAt:   start,
	}
	enqueue(t, store, "t1", models.TaskConsolidationArchive, payload)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	key := "consolidations/keep/dup-20240515T120000Z.json"
	if ArchiveKey(payload) != key {
		t.Fatalf("unexpected key %s", ArchiveKey(payload))
	}
	body, ok := objects.objects[key]
	if !ok {
		t.Fatalf("archive not uploaded, have %v", objects.objects)
	}
	var got models.ConsolidationArchivePayload
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if got.MergedUser.BalanceCredits != 15 || len(got.Entries) != 1 {
		t.Fatalf("unexpected archive %+v", got)
	}
}

func TestBackoff(t *testing.T) {
	base, max := time.Second, 10*time.Second
	cases := map[int]time.Duration{0: time.Second, 1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 8 * time.Second, 5: max, 60: max}
	for attempt, want := range cases {
		if got := Backoff(attempt, base, max); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}
