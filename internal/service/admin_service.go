package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sefazor/portfolio-billing/internal/models"
	"github.com/sefazor/portfolio-billing/internal/repository"
	"go.uber.org/zap"
)

type AdjustInput struct {
	UID          string
	DeltaCredits int64
	Reason       string
	AdminEmail   string
}

type ConsolidationResult struct {
	KeepUID        string `json:"keep_uid"`
	MergeUID       string `json:"merge_uid"`
	BalanceCredits int64  `json:"balance_credits"`
	EntriesMoved   int    `json:"entries_moved"`
}

type AdminService struct {
	store repository.Store
	opts  Options
}

func NewAdminService(store repository.Store, opts Options) *AdminService {
	return &AdminService{store: store, opts: opts.withDefaults()}
}

// AdjustCredits applies a manual credit change and returns the new balance.
func (s *AdminService) AdjustCredits(ctx context.Context, in AdjustInput) (int64, error) {
	switch {
	case in.UID == "":
		return 0, invalidInput("uid is required")
	case in.DeltaCredits == 0:
		return 0, invalidInput("delta must not be zero")
	case in.Reason == "":
		return 0, invalidInput("reason is required")
	case in.AdminEmail == "":
		return 0, ErrUnauthorized
	}

	now := s.opts.now()
	var balance int64
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		user, err := tx.GetUserForUpdate(in.UID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if in.DeltaCredits < 0 {
				return ErrWouldGoNegative
			}
			user, err = tx.EnsureUser(in.UID, "", now)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if _, err := appendLedger(tx, user, in.DeltaCredits, models.LedgerReasonAdminAdjust, in.AdminEmail, in.Reason, now); err != nil {
			return err
		}
		balance = user.BalanceCredits
		return nil
	})
	if err != nil {
		return 0, storeError(err)
	}

	s.opts.Logger.Info("credits adjusted",
		zap.String("uid", in.UID),
		zap.Int64("delta", in.DeltaCredits),
		zap.Int64("balance", balance),
		zap.String("admin", in.AdminEmail),
		zap.String("reason", in.Reason))
	return balance, nil
}

// ConsolidateUsers folds mergeUID into keepUID and deletes mergeUID. Both
// users are locked in uid order so concurrent ledger writes on either side
// wait for the merge.
func (s *AdminService) ConsolidateUsers(ctx context.Context, keepUID, mergeUID, adminEmail string) (*ConsolidationResult, error) {
	switch {
	case keepUID == "" || mergeUID == "":
		return nil, invalidInput("both uids are required")
	case keepUID == mergeUID:
		return nil, ErrSameUser
	case adminEmail == "":
		return nil, ErrUnauthorized
	}

	now := s.opts.now()
	var res *ConsolidationResult
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		order := []string{keepUID, mergeUID}
		sort.Strings(order)

		var keep, merge *models.BillingUser
		for _, uid := range order {
			user, err := tx.GetUserForUpdate(uid)
			if errors.Is(err, repository.ErrNotFound) {
				if uid == mergeUID {
					return fmt.Errorf("%w: user %s", ErrNotFound, mergeUID)
				}
				continue
			}
			if err != nil {
				return err
			}
			if uid == keepUID {
				keep = user
			} else {
				merge = user
			}
		}
		if keep == nil {
			var err error
			keep, err = tx.EnsureUser(keepUID, merge.Email, now)
			if err != nil {
				return err
			}
		}

		entries, err := tx.ListEntries(mergeUID, 0)
		if err != nil {
			return err
		}
		snapshot := models.ConsolidationArchivePayload{
			KeepUID:    keepUID,
			MergeUID:   mergeUID,
			AdminEmail: adminEmail,
			MergedUser: *merge,
			Entries:    entries,
			MergedAt:   now,
		}

		if err := tx.ReassignUser(mergeUID, keepUID); err != nil {
			return err
		}
		if err := mergeFreeUsage(tx, keepUID, mergeUID); err != nil {
			return err
		}

		total, err := safeAdd(keep.BalanceCredits, merge.BalanceCredits)
		if err != nil {
			return err
		}
		keep.BalanceCredits = total
		if keep.Email == "" {
			keep.Email = merge.Email
		}
		keep.UpdatedAt = now
		if err := tx.SaveUser(keep); err != nil {
			return err
		}
		if err := tx.DeleteUser(mergeUID); err != nil {
			return err
		}

		if err := enqueue(tx, models.TaskConsolidationArchive, snapshot, now); err != nil {
			return err
		}

		res = &ConsolidationResult{
			KeepUID:        keepUID,
			MergeUID:       mergeUID,
			BalanceCredits: total,
			EntriesMoved:   len(entries),
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}

	s.opts.Logger.Info("users consolidated",
		zap.String("keep_uid", keepUID),
		zap.String("merge_uid", mergeUID),
		zap.Int("entries_moved", res.EntriesMoved),
		zap.Int64("balance", res.BalanceCredits),
		zap.String("admin", adminEmail))
	return res, nil
}

// mergeFreeUsage sums per-window free usage counters into keepUID.
func mergeFreeUsage(tx repository.Tx, keepUID, mergeUID string) error {
	windows, err := tx.ListFreeUsage(mergeUID)
	if err != nil {
		return err
	}
	for _, w := range windows {
		target, err := tx.GetFreeUsage(keepUID, w.WeekStart)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			target = &models.FreeUsage{UID: keepUID, WeekStart: w.WeekStart}
		case err != nil:
			return err
		}
		target.Used += w.Used
		target.UpdatedAt = w.UpdatedAt
		if err := tx.SaveFreeUsage(target); err != nil {
			return err
		}
		if err := tx.DeleteFreeUsage(mergeUID, w.WeekStart); err != nil {
			return err
		}
	}
	return nil
}
