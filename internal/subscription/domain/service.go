package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ActivationPayment carries the gateway-confirmed payment that activates a
// pending subscription. AmountMinor is in minor units (paise).
type ActivationPayment struct {
	TransactionID string
	AmountMinor   int64
	Currency      string
	Method        string
}

// RefundPayment carries a gateway refund. AmountMinor is in minor units.
type RefundPayment struct {
	TransactionID string
	AmountMinor   int64
	Currency      string
}

type CreatePendingRequest struct {
	AdminID      snowflake.ID
	PlanID       snowflake.ID
	BillingCycle BillingCycle
}

type UpgradeRequest struct {
	SubscriptionID snowflake.ID
	NewPlanID      snowflake.ID
	BillingCycle   BillingCycle
}

// Service is the lifecycle state machine. Every status transition is an
// atomic conditional update; a losing writer observes its transition as an
// idempotent no-op, never an error that corrupts state.
type Service interface {
	CreatePending(ctx context.Context, req CreatePendingRequest) (Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	GetCurrentByAdminID(ctx context.Context, adminID snowflake.ID) (Subscription, error)

	// Activate handles PaymentCaptured/PaymentAuthorized and manual verify:
	// pending_payment -> active. Redelivery on an already-active
	// subscription is a recognized no-op.
	Activate(ctx context.Context, id snowflake.ID, payment ActivationPayment) error
	// RecordFailedPayment is the pending_payment self-loop: a failed ledger
	// entry is appended, status does not change.
	RecordFailedPayment(ctx context.Context, id snowflake.ID, gatewayError string) error
	// Refund handles PaymentRefunded: active -> cancelled with a negative
	// refunded ledger entry.
	Refund(ctx context.Context, id snowflake.ID, refund RefundPayment) error
	// Cancel is the admin path of active -> cancelled.
	Cancel(ctx context.Context, id snowflake.ID, reason string) error
	// Expire is the scheduler edge active -> expired.
	Expire(ctx context.Context, id snowflake.ID) error
	// Renew is the active -> active renewal edge: the new window starts at
	// the old end date, never at "now". On a persistence failure the
	// compensating action disables auto-renew.
	Renew(ctx context.Context, id snowflake.ID) error
	// Archive is the scheduler edge expired -> archived, allowed only after
	// the 30-day cooldown. Archived is terminal.
	Archive(ctx context.Context, id snowflake.ID) error
	Upgrade(ctx context.Context, req UpgradeRequest) error
	SetAutoRenew(ctx context.Context, id snowflake.ID, autoRenew bool) error
}

// ArchiveCooldown is how long a subscription stays expired before the
// cleanup job may archive it.
const ArchiveCooldown = 30 * 24 * time.Hour

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrAdminHasSubscription = errors.New("admin_has_active_subscription")
	ErrInvalidReason        = errors.New("invalid_cancellation_reason")
	// ErrConflict is returned by the repository when a conditional update
	// loses its precondition; the service layer absorbs it as a no-op.
	ErrConflict = errors.New("concurrent_update_conflict")
)
