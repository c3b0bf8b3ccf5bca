package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/pkg/storage"
	"go.uber.org/zap"
)

type ReceiptSender interface {
	SendPurchaseReceipt(p models.PurchaseReceiptPayload) error
}

func PurchaseReceiptProcessor(sender ReceiptSender) Processor {
	return func(ctx context.Context, task models.Task) error {
		var p models.PurchaseReceiptPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode receipt payload: %v", ErrPermanent, err)
		}
		if p.Email == "" {
			return fmt.Errorf("%w: receipt for purchase %s has no email", ErrPermanent, p.PurchaseID)
		}
		return sender.SendPurchaseReceipt(p)
	}
}

// ArchiveKey is stable for a consolidation so a retried upload overwrites
// the same object.
func ArchiveKey(p models.ConsolidationArchivePayload) string {
	return fmt.Sprintf("consolidations/%s/%s-%s.json", p.KeepUID, p.MergeUID, p.MergedAt.UTC().Format("20060102T150405Z"))
}

func ConsolidationArchiveProcessor(store storage.StorageService) Processor {
	return func(ctx context.Context, task models.Task) error {
		var p models.ConsolidationArchivePayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return fmt.Errorf("%w: decode archive payload: %v", ErrPermanent, err)
		}
		body, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return fmt.Errorf("%w: encode archive: %v", ErrPermanent, err)
		}
		return store.Upload(ctx, ArchiveKey(p), bytes.NewReader(body))
	}
}

// Discard completes tasks of a kind whose backend is not configured.
func Discard(logger *zap.Logger, reason string) Processor {
	return func(ctx context.Context, task models.Task) error {
		logger.Info("task discarded",
			zap.String("task_id", task.ID),
			zap.String("kind", string(task.Kind)),
			zap.String("reason", reason))
		return nil
	}
}
