package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
)

type freeKey struct {
	uid       string
	weekStart string
}

// MemoryStore keeps everything in process. Transactions are serialized by a
// single mutex and rolled back from an undo log.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]models.BillingUser
	entries   []models.LedgerEntry
	usages    []models.UsageRecord
	purchases []models.Purchase
	free      map[freeKey]models.FreeUsage
	tasks     []models.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]models.BillingUser),
		free:  make(map[freeKey]models.FreeUsage),
	}
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{s: s, touched: make(map[string]bool)}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) ListStaleUsage(ctx context.Context, startedBefore time.Time, limit int) ([]models.UsageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.UsageRecord
	for _, u := range s.usages {
		if u.Status == models.UsageStatusStarted && u.CreatedAt.Before(startedBefore) {
			out = append(out, u)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ClaimTasks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := make([]int, 0)
	for i, t := range s.tasks {
		due := t.Status == models.TaskPending && !t.RunAt.After(now)
		expired := t.Status == models.TaskRunning && t.LeaseUntil != nil && t.LeaseUntil.Before(now)
		if due || expired {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.tasks[idx[a]].RunAt.Before(s.tasks[idx[b]].RunAt)
	})
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}

	leaseUntil := now.Add(lease)
	out := make([]models.Task, 0, len(idx))
	for _, i := range idx {
		t := &s.tasks[i]
		t.Status = models.TaskRunning
		t.Attempts++
		lu := leaseUntil
		t.LeaseUntil = &lu
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) CompleteTask(ctx context.Context, id string, now time.Time) error {
	return s.updateTask(ctx, id, func(t *models.Task) {
		t.Status = models.TaskDone
		t.LeaseUntil = nil
		t.LastError = ""
		t.UpdatedAt = now
	})
}

func (s *MemoryStore) RetryTask(ctx context.Context, id string, lastErr string, runAt time.Time, dead bool) error {
	return s.updateTask(ctx, id, func(t *models.Task) {
		t.Status = models.TaskPending
		if dead {
			t.Status = models.TaskDead
		}
		t.LeaseUntil = nil
		t.LastError = lastErr
		t.RunAt = runAt
		t.UpdatedAt = time.Now()
	})
}

// Tasks returns a copy of every task; used by tests and diagnostics.
func (s *MemoryStore) Tasks() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tasks)
}

func (s *MemoryStore) updateTask(ctx context.Context, id string, fn func(t *models.Task)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			fn(&s.tasks[i])
			return nil
		}
	}
	return ErrNotFound
}

type memoryTx struct {
	s       *MemoryStore
	touched map[string]bool
	undo    []func()
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// touch snapshots a collection the first time the transaction writes to it.
func (t *memoryTx) touch(name string) {
	if t.touched[name] {
		return
	}
	t.touched[name] = true

	s := t.s
	switch name {
	case "users":
		prev := maps.Clone(s.users)
		t.undo = append(t.undo, func() { s.users = prev })
	case "entries":
		prev := slices.Clone(s.entries)
		t.undo = append(t.undo, func() { s.entries = prev })
	case "usages":
		prev := slices.Clone(s.usages)
		t.undo = append(t.undo, func() { s.usages = prev })
	case "purchases":
		prev := slices.Clone(s.purchases)
		t.undo = append(t.undo, func() { s.purchases = prev })
	case "free":
		prev := maps.Clone(s.free)
		t.undo = append(t.undo, func() { s.free = prev })
	case "tasks":
		prev := slices.Clone(s.tasks)
		t.undo = append(t.undo, func() { s.tasks = prev })
	}
}

func (t *memoryTx) GetUser(uid string) (*models.BillingUser, error) {
	user, ok := t.s.users[uid]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (t *memoryTx) GetUserForUpdate(uid string) (*models.BillingUser, error) {
	return t.GetUser(uid)
}

func (t *memoryTx) EnsureUser(uid, email string, now time.Time) (*models.BillingUser, error) {
	if _, ok := t.s.users[uid]; !ok {
		t.touch("users")
		t.s.users[uid] = models.BillingUser{UID: uid, Email: email, CreatedAt: now, UpdatedAt: now}
	}
	return t.GetUser(uid)
}

func (t *memoryTx) SaveUser(user *models.BillingUser) error {
	t.touch("users")
	t.s.users[user.UID] = *user
	return nil
}

func (t *memoryTx) DeleteUser(uid string) error {
	if _, ok := t.s.users[uid]; !ok {
		return ErrNotFound
	}
	t.touch("users")
	delete(t.s.users, uid)
	return nil
}

func (t *memoryTx) AppendEntry(entry *models.LedgerEntry) error {
	for _, e := range t.s.entries {
		if e.ID == entry.ID {
			return ErrDuplicate
		}
	}
	t.touch("entries")
	t.s.entries = append(t.s.entries, *entry)
	return nil
}

func (t *memoryTx) ListEntries(uid string, limit int) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for i := len(t.s.entries) - 1; i >= 0; i-- {
		if t.s.entries[i].UID != uid {
			continue
		}
		out = append(out, t.s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) SumEntries(uid string) (int64, error) {
	var sum int64
	for _, e := range t.s.entries {
		if e.UID == uid {
			sum += e.DeltaCredits
		}
	}
	return sum, nil
}

func (t *memoryTx) CreateUsage(usage *models.UsageRecord) error {
	for _, u := range t.s.usages {
		if u.ID == usage.ID {
			return ErrDuplicate
		}
	}
	t.touch("usages")
	t.s.usages = append(t.s.usages, *usage)
	return nil
}

func (t *memoryTx) GetUsage(id string) (*models.UsageRecord, error) {
	for _, u := range t.s.usages {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) GetUsageForUpdate(id string) (*models.UsageRecord, error) {
	return t.GetUsage(id)
}

func (t *memoryTx) SaveUsage(usage *models.UsageRecord) error {
	t.touch("usages")
	for i := range t.s.usages {
		if t.s.usages[i].ID == usage.ID {
			t.s.usages[i] = *usage
			return nil
		}
	}
	t.s.usages = append(t.s.usages, *usage)
	return nil
}

func (t *memoryTx) ListUsage(uid string, limit int) ([]models.UsageRecord, error) {
	var out []models.UsageRecord
	for i := len(t.s.usages) - 1; i >= 0; i-- {
		if t.s.usages[i].UID != uid {
			continue
		}
		out = append(out, t.s.usages[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memoryTx) GetPurchaseByEventID(eventID string) (*models.Purchase, error) {
	for _, p := range t.s.purchases {
		if p.StripeEventID == eventID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) GetPurchaseBySessionID(sessionID string) (*models.Purchase, error) {
	for _, p := range t.s.purchases {
		if p.StripeSessionID == sessionID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) CreatePurchase(purchase *models.Purchase) error {
	for _, p := range t.s.purchases {
		if p.ID == purchase.ID || p.StripeEventID == purchase.StripeEventID || p.StripeSessionID == purchase.StripeSessionID {
			return ErrDuplicate
		}
	}
	t.touch("purchases")
	t.s.purchases = append(t.s.purchases, *purchase)
	return nil
}

func (t *memoryTx) ListPurchases(uid string) ([]models.Purchase, error) {
	var out []models.Purchase
	for i := len(t.s.purchases) - 1; i >= 0; i-- {
		if t.s.purchases[i].UID == uid {
			out = append(out, t.s.purchases[i])
		}
	}
	return out, nil
}

func (t *memoryTx) GetFreeUsage(uid, weekStart string) (*models.FreeUsage, error) {
	usage, ok := t.s.free[freeKey{uid, weekStart}]
	if !ok {
		return nil, ErrNotFound
	}
	return &usage, nil
}

func (t *memoryTx) SaveFreeUsage(usage *models.FreeUsage) error {
	t.touch("free")
	t.s.free[freeKey{usage.UID, usage.WeekStart}] = *usage
	return nil
}

func (t *memoryTx) ListFreeUsage(uid string) ([]models.FreeUsage, error) {
	var out []models.FreeUsage
	for k, v := range t.s.free {
		if k.uid == uid {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart < out[j].WeekStart })
	return out, nil
}

func (t *memoryTx) DeleteFreeUsage(uid, weekStart string) error {
	t.touch("free")
	delete(t.s.free, freeKey{uid, weekStart})
	return nil
}

func (t *memoryTx) ReassignUser(fromUID, toUID string) error {
	t.touch("entries")
	for i := range t.s.entries {
		if t.s.entries[i].UID == fromUID {
			t.s.entries[i].UID = toUID
			if t.s.entries[i].MergedFrom == "" {
				t.s.entries[i].MergedFrom = fromUID
			}
		}
	}
	t.touch("usages")
	for i := range t.s.usages {
		if t.s.usages[i].UID == fromUID {
			t.s.usages[i].UID = toUID
		}
	}
	t.touch("purchases")
	for i := range t.s.purchases {
		if t.s.purchases[i].UID == fromUID {
			t.s.purchases[i].UID = toUID
		}
	}
	return nil
}

func (t *memoryTx) EnqueueTask(task *models.Task) error {
	t.touch("tasks")
	t.s.tasks = append(t.s.tasks, *task)
	return nil
}
