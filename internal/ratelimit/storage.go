package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/sefazor/portfolio-billing/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var zeroTime = time.Time{}

// GormStorage implements fiber.Storage on the rate_limit_entries table so
// every instance behind the load balancer shares the same counters.
type GormStorage struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db, now: time.Now}
}

func (s *GormStorage) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, nil
	}
	var entry models.RateLimitEntry
	err := s.db.
		Where("key = ? AND (expires_at = ? OR expires_at > ?)", key, zeroTime, s.now().UTC()).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (s *GormStorage) Set(key string, val []byte, exp time.Duration) error {
	if key == "" || len(val) == 0 {
		return nil
	}
	entry := models.RateLimitEntry{Key: key, Value: val}
	if exp > 0 {
		entry.ExpiresAt = s.now().UTC().Add(exp)
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
}

func (s *GormStorage) Delete(key string) error {
	if key == "" {
		return nil
	}
	return s.db.Where("key = ?", key).Delete(&models.RateLimitEntry{}).Error
}

func (s *GormStorage) Reset() error {
	return s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.RateLimitEntry{}).Error
}

func (s *GormStorage) Close() error {
	return nil
}

// GC removes expired counters and reports how many rows went away.
func (s *GormStorage) GC(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <> ? AND expires_at <= ?", zeroTime, s.now().UTC()).
		Delete(&models.RateLimitEntry{})
	return res.RowsAffected, res.Error
}
