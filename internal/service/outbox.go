package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
)

func enqueue(tx repository.Tx, kind models.TaskKind, payload any, now time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return tx.EnqueueTask(&models.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		Status:    models.TaskPending,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	})
}
