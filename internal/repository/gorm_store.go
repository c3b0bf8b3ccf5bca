package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) ListStaleUsage(ctx context.Context, startedBefore time.Time, limit int) ([]models.UsageRecord, error) {
	var usages []models.UsageRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.UsageStatusStarted, startedBefore).
		Order("created_at").
		Limit(limit).
		Find(&usages).Error
	return usages, translate(err)
}

func (s *GormStore) ClaimTasks(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("(status = ? AND run_at <= ?) OR (status = ? AND lease_until < ?)",
				models.TaskPending, now, models.TaskRunning, now).
			Order("run_at").
			Limit(limit).
			Find(&tasks).Error
		if err != nil || len(tasks) == 0 {
			return err
		}

		ids := make([]string, 0, len(tasks))
		for _, t := range tasks {
			ids = append(ids, t.ID)
		}
		leaseUntil := now.Add(lease)
		err = tx.Model(&models.Task{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":      models.TaskRunning,
			"lease_until": leaseUntil,
			"attempts":    gorm.Expr("attempts + 1"),
			"updated_at":  now,
		}).Error
		if err != nil {
			return err
		}
		for i := range tasks {
			tasks[i].Status = models.TaskRunning
			tasks[i].Attempts++
			tasks[i].LeaseUntil = &leaseUntil
		}
		return nil
	})
	return tasks, translate(err)
}

func (s *GormStore) CompleteTask(ctx context.Context, id string, now time.Time) error {
	return translate(s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      models.TaskDone,
		"lease_until": nil,
		"last_error":  "",
		"updated_at":  now,
	}).Error)
}

func (s *GormStore) RetryTask(ctx context.Context, id string, lastErr string, runAt time.Time, dead bool) error {
	status := models.TaskPending
	if dead {
		status = models.TaskDead
	}
	return translate(s.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"lease_until": nil,
		"last_error":  lastErr,
		"run_at":      runAt,
		"updated_at":  time.Now(),
	}).Error)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetUser(uid string) (*models.BillingUser, error) {
	var user models.BillingUser
	if err := t.db.Where("uid = ?", uid).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (t *gormTx) GetUserForUpdate(uid string) (*models.BillingUser, error) {
	var user models.BillingUser
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("uid = ?", uid).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (t *gormTx) EnsureUser(uid, email string, now time.Time) (*models.BillingUser, error) {
	user := models.BillingUser{UID: uid, Email: email, CreatedAt: now, UpdatedAt: now}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error; err != nil {
		return nil, translate(err)
	}
	return t.GetUserForUpdate(uid)
}

func (t *gormTx) SaveUser(user *models.BillingUser) error {
	return translate(t.db.Save(user).Error)
}

func (t *gormTx) DeleteUser(uid string) error {
	res := t.db.Where("uid = ?", uid).Delete(&models.BillingUser{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) AppendEntry(entry *models.LedgerEntry) error {
	return translate(t.db.Create(entry).Error)
}

func (t *gormTx) ListEntries(uid string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := t.db.Where("uid = ?", uid).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, translate(err)
}

func (t *gormTx) SumEntries(uid string) (int64, error) {
	var sum int64
	err := t.db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(delta_credits), 0)").
		Where("uid = ?", uid).
		Scan(&sum).Error
	return sum, translate(err)
}

func (t *gormTx) CreateUsage(usage *models.UsageRecord) error {
	return translate(t.db.Create(usage).Error)
}

func (t *gormTx) GetUsage(id string) (*models.UsageRecord, error) {
	var usage models.UsageRecord
	if err := t.db.Where("id = ?", id).First(&usage).Error; err != nil {
		return nil, translate(err)
	}
	return &usage, nil
}

func (t *gormTx) GetUsageForUpdate(id string) (*models.UsageRecord, error) {
	var usage models.UsageRecord
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&usage).Error
	if err != nil {
		return nil, translate(err)
	}
	return &usage, nil
}

func (t *gormTx) SaveUsage(usage *models.UsageRecord) error {
	return translate(t.db.Save(usage).Error)
}

func (t *gormTx) ListUsage(uid string, limit int) ([]models.UsageRecord, error) {
	var usages []models.UsageRecord
	q := t.db.Where("uid = ?", uid).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&usages).Error
	return usages, translate(err)
}

func (t *gormTx) GetPurchaseByEventID(eventID string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := t.db.Where("stripe_event_id = ?", eventID).First(&purchase).Error; err != nil {
		return nil, translate(err)
	}
	return &purchase, nil
}

func (t *gormTx) GetPurchaseBySessionID(sessionID string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := t.db.Where("stripe_session_id = ?", sessionID).First(&purchase).Error; err != nil {
		return nil, translate(err)
	}
	return &purchase, nil
}

func (t *gormTx) CreatePurchase(purchase *models.Purchase) error {
	return translate(t.db.Create(purchase).Error)
}

func (t *gormTx) ListPurchases(uid string) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := t.db.Where("uid = ?", uid).Order("created_at DESC").Find(&purchases).Error
	return purchases, translate(err)
}

func (t *gormTx) GetFreeUsage(uid, weekStart string) (*models.FreeUsage, error) {
	var usage models.FreeUsage
	if err := t.db.Where("uid = ? AND week_start = ?", uid, weekStart).First(&usage).Error; err != nil {
		return nil, translate(err)
	}
	return &usage, nil
}

func (t *gormTx) SaveFreeUsage(usage *models.FreeUsage) error {
	return translate(t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(usage).Error)
}

func (t *gormTx) ListFreeUsage(uid string) ([]models.FreeUsage, error) {
	var usages []models.FreeUsage
	err := t.db.Where("uid = ?", uid).Order("week_start").Find(&usages).Error
	return usages, translate(err)
}

func (t *gormTx) DeleteFreeUsage(uid, weekStart string) error {
	return translate(t.db.Where("uid = ? AND week_start = ?", uid, weekStart).Delete(&models.FreeUsage{}).Error)
}

func (t *gormTx) ReassignUser(fromUID, toUID string) error {
	// entries keep the uid their balance_after was computed for
	err := t.db.Model(&models.LedgerEntry{}).Where("uid = ?", fromUID).Updates(map[string]interface{}{
		"uid":         toUID,
		"merged_from": gorm.Expr("COALESCE(NULLIF(merged_from, ''), ?)", fromUID),
	}).Error
	if err != nil {
		return translate(err)
	}
	for _, model := range []interface{}{&models.UsageRecord{}, &models.Purchase{}} {
		if err := t.db.Model(model).Where("uid = ?", fromUID).Update("uid", toUID).Error; err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *gormTx) EnqueueTask(task *models.Task) error {
	return translate(t.db.Create(task).Error)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
