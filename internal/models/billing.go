package models

import "time"

type LedgerReason string

const (
	LedgerReasonPurchase    LedgerReason = "purchase"
	LedgerReasonUsage       LedgerReason = "usage"
	LedgerReasonRefund      LedgerReason = "refund"
	LedgerReasonAdminAdjust LedgerReason = "admin_adjust"
)

type UsageStatus string

const (
	UsageStatusStarted   UsageStatus = "started"
	UsageStatusSucceeded UsageStatus = "succeeded"
	UsageStatusFailed    UsageStatus = "failed"
	UsageStatusRefunded  UsageStatus = "refunded"
)

// BillingUser is created lazily on the first billing interaction and is only
// mutated together with a ledger entry.
type BillingUser struct {
	UID            string    `json:"uid" gorm:"primaryKey;type:varchar(128)"`
	Email          string    `json:"email" gorm:"index"`
	BalanceCredits int64     `json:"balance_credits" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LedgerEntry is an immutable credit movement. The sum of a uid's deltas is
// its balance. BalanceAfter is the running balance of the uid the entry was
// written for: MergedFrom when the entry was moved by a consolidation, UID
// otherwise.
type LedgerEntry struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(64)"`
	UID          string       `json:"uid" gorm:"type:varchar(128);not null;index"`
	DeltaCredits int64        `json:"delta_credits" gorm:"not null"`
	Reason       LedgerReason `json:"reason" gorm:"type:varchar(20);not null;index"`
	RefBy        string       `json:"ref_by" gorm:"index"`
	Note         string       `json:"note,omitempty"`
	BalanceAfter int64        `json:"balance_after" gorm:"not null"`
	MergedFrom   string       `json:"merged_from,omitempty" gorm:"type:varchar(128);index"`
	CreatedAt    time.Time    `json:"created_at" gorm:"index"`
}

type UsageRecord struct {
	ID             string      `json:"id" gorm:"primaryKey;type:varchar(64)"`
	UID            string      `json:"uid" gorm:"type:varchar(128);not null;index"`
	Tool           string      `json:"tool" gorm:"not null"`
	ExternalJobID  string      `json:"external_job_id,omitempty"`
	Status         UsageStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	CreditsCharged int64       `json:"credits_charged" gorm:"not null;default:0"`
	Free           bool        `json:"free" gorm:"default:false"`
	WeekStart      string      `json:"week_start,omitempty" gorm:"type:varchar(10)"`
	FailureReason  string      `json:"failure_reason,omitempty"`
	RefundReason   string      `json:"refund_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type Purchase struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	StripeSessionID string    `json:"stripe_session_id" gorm:"uniqueIndex;not null"`
	StripeEventID   string    `json:"stripe_event_id" gorm:"uniqueIndex;not null"`
	UID             string    `json:"uid" gorm:"type:varchar(128);not null;index"`
	Email           string    `json:"email"`
	USDCents        int64     `json:"usd_cents" gorm:"not null"`
	Credits         int64     `json:"credits" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
}

// FreeUsage counts free actions consumed by a uid inside one allowance window.
type FreeUsage struct {
	UID       string    `json:"uid" gorm:"primaryKey;type:varchar(128)"`
	WeekStart string    `json:"week_start" gorm:"primaryKey;type:varchar(10)"`
	Used      int       `json:"used" gorm:"not null;default:0"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (FreeUsage) TableName() string {
	return "free_usage"
}
