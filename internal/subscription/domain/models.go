// Package domain contains the subscription record, its lifecycle states and
// the embedded payment history.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusActive         Status = "active"
	StatusExpired        Status = "expired"
	StatusCancelled      Status = "cancelled"
	StatusArchived       Status = "archived"
)

// AllStatuses enumerates the legal lifecycle states.
var AllStatuses = []Status{
	StatusPendingPayment,
	StatusActive,
	StatusExpired,
	StatusCancelled,
	StatusArchived,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusActive, StatusExpired, StatusCancelled, StatusArchived:
		return true
	}
	return false
}

// BillingCycle is the subscription's billing period; immutable after
// creation except via plan upgrade.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (c BillingCycle) Valid() bool {
	return c == BillingCycleMonthly || c == BillingCycleYearly
}

// AddTo returns t plus one billing period.
func (c BillingCycle) AddTo(t time.Time) time.Time {
	if c == BillingCycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// PaymentStatus classifies entries in the payment history.
type PaymentStatus string

const (
	PaymentStatusSuccess     PaymentStatus = "success"
	PaymentStatusFailed      PaymentStatus = "failed"
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusAutoRenewed PaymentStatus = "auto_renewed"
)

// PaymentRecord is one immutable entry in the subscription's payment history.
// Amount is in rupees; negative amounts are refunds. Records are never
// mutated or deleted after insertion.
type PaymentRecord struct {
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Method        string        `json:"method,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Date          time.Time     `json:"date"`
	Status        PaymentStatus `json:"status"`
	Note          string        `json:"note,omitempty"`
}

// Usage holds the per-subscription resource counters. All counters are >= 0.
// Only OrdersThisMonth is reset by the scheduler; the rest are maintained by
// the catalog/order subsystems and merely read here.
type Usage struct {
	Hotels          int     `json:"hotels"`
	Branches        int     `json:"branches"`
	Managers        int     `json:"managers"`
	Staff           int     `json:"staff"`
	Tables          int     `json:"tables"`
	OrdersThisMonth int     `json:"orders_this_month"`
	StorageUsedGB   float64 `json:"storage_used_gb"`
}

// Subscription captures an admin-tenant's time-boxed entitlement to a plan.
// At most one non-archived subscription exists per admin.
type Subscription struct {
	ID                 snowflake.ID   `gorm:"primaryKey"`
	AdminID            snowflake.ID   `gorm:"not null;index"`
	PlanID             snowflake.ID   `gorm:"not null;index"`
	Status             Status         `gorm:"type:text;not null;index"`
	BillingCycle       BillingCycle   `gorm:"type:text;not null"`
	StartDate          time.Time      `gorm:"not null"`
	EndDate            time.Time      `gorm:"not null;index"`
	AutoRenew          bool           `gorm:"not null;default:true"`
	PaymentHistory     datatypes.JSON `gorm:"type:jsonb"`
	Usage              datatypes.JSON `gorm:"type:jsonb"`
	CancellationReason *string        `gorm:"type:text"`
	CancelledAt        *time.Time     `gorm:""`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUpdated        time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Payments decodes the embedded, append-only payment history.
func (s *Subscription) Payments() ([]PaymentRecord, error) {
	if len(s.PaymentHistory) == 0 {
		return nil, nil
	}
	var records []PaymentRecord
	if err := json.Unmarshal(s.PaymentHistory, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CurrentUsage decodes the usage counters.
func (s *Subscription) CurrentUsage() (Usage, error) {
	if len(s.Usage) == 0 {
		return Usage{}, nil
	}
	var usage Usage
	if err := json.Unmarshal(s.Usage, &usage); err != nil {
		return Usage{}, err
	}
	return usage, nil
}

func EncodePayments(records []PaymentRecord) (datatypes.JSON, error) {
	if records == nil {
		records = []PaymentRecord{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func EncodeUsage(usage Usage) (datatypes.JSON, error) {
	raw, err := json.Marshal(usage)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
