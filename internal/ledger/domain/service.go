// Package domain defines the append-only payment ledger contract.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
)

// Service is the append-only journal of monetary events attached to a
// subscription. One call is one append; entries are never updated or
// deleted. The engine does not aggregate totals -- that is a read-side
// concern of the reporting collaborator.
type Service interface {
	// Append adds one entry to the subscription's embedded history.
	// Negative amounts are refunds. The entry lands only while the
	// subscription is in one of the given states; a nil set means any
	// non-archived state (the archived record is a frozen audit trail).
	// A miss on an explicit set returns ErrStateConflict so callers can
	// treat out-of-order gateway deliveries as no-ops.
	Append(ctx context.Context, subscriptionID snowflake.ID, record subscriptiondomain.PaymentRecord, within []subscriptiondomain.Status) error
	// History returns the ordered entries for a subscription.
	History(ctx context.Context, subscriptionID snowflake.ID) ([]subscriptiondomain.PaymentRecord, error)
}

var (
	ErrSubscriptionArchived = errors.New("subscription_archived")
	ErrInvalidRecord        = errors.New("invalid_ledger_record")
	// ErrStateConflict: the subscription left the caller's required state
	// before the append landed.
	ErrStateConflict = errors.New("ledger_state_conflict")
)
