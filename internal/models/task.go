package models

import "time"

type TaskKind string

const (
	TaskPurchaseReceipt      TaskKind = "purchase_receipt"
	TaskConsolidationArchive TaskKind = "consolidation_archive"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskDone    TaskStatus = "done"
	TaskDead    TaskStatus = "dead"
)

// Task is an outbox row. It is written in the same transaction as the ledger
// change that produced it and delivered at least once.
type Task struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Kind       TaskKind   `json:"kind" gorm:"type:varchar(40);not null;index"`
	Payload    []byte     `json:"payload" gorm:"type:bytea"`
	Status     TaskStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_tasks_status_run_at,priority:1"`
	Attempts   int        `json:"attempts" gorm:"not null;default:0"`
	LastError  string     `json:"last_error,omitempty"`
	RunAt      time.Time  `json:"run_at" gorm:"index:idx_tasks_status_run_at,priority:2"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type PurchaseReceiptPayload struct {
	PurchaseID     string `json:"purchase_id"`
	UID            string `json:"uid"`
	Email          string `json:"email"`
	Credits        int64  `json:"credits"`
	USDCents       int64  `json:"usd_cents"`
	BalanceCredits int64  `json:"balance_credits"`
}

// ConsolidationArchivePayload is the state of a merged identity captured
// before its rows were re-parented.
type ConsolidationArchivePayload struct {
	KeepUID    string        `json:"keep_uid"`
	MergeUID   string        `json:"merge_uid"`
	AdminEmail string        `json:"admin_email"`
	MergedUser BillingUser   `json:"merged_user"`
	Entries    []LedgerEntry `json:"entries"`
	MergedAt   time.Time     `json:"merged_at"`
}
