package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Mutation is the set of fields a lifecycle transition may change. Nil
// pointers are left untouched. AppendPayment appends to the embedded history
// in the same conditional update, so the status edge and the ledger append
// commit together or not at all.
type Mutation struct {
	Status             *Status
	StartDate          *time.Time
	EndDate            *time.Time
	AutoRenew          *bool
	PlanID             *snowflake.ID
	BillingCycle       *BillingCycle
	Usage              *Usage
	CancellationReason *string
	CancelledAt        *time.Time
	AppendPayment      *PaymentRecord
}

// Precondition is the guard for a compare-and-swap update. The write applies
// only while the record's status is one of Statuses (and, when set, its end
// date still equals EndDate -- used by the renewal edge so a re-run within
// the same window cannot double-extend).
type Precondition struct {
	Statuses []Status
	EndDate  *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindCurrentByAdminID returns the admin's newest non-archived subscription.
	FindCurrentByAdminID(ctx context.Context, db *gorm.DB, adminID snowflake.ID) (*Subscription, error)
	// UpdateIf applies the mutation only while the precondition holds.
	// Returns false (and no error) when the precondition was lost to a
	// concurrent writer; callers treat that as an idempotent no-op.
	UpdateIf(ctx context.Context, db *gorm.DB, id snowflake.ID, pre Precondition, m Mutation, now time.Time) (bool, error)

	// Time-window selectors for the reconciliation jobs. Each returns a
	// bounded candidate set.
	FindWithEndDateBetween(ctx context.Context, db *gorm.DB, status Status, from, to time.Time, limit int) ([]Subscription, error)
	FindAutoRenewDue(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]Subscription, error)
	FindByStatus(ctx context.Context, db *gorm.DB, status Status, limit int, offset int) ([]Subscription, error)
	FindArchivable(ctx context.Context, db *gorm.DB, endedBefore time.Time, limit int) ([]Subscription, error)
}
