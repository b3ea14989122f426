// Package domain defines the canonical gateway event model. Adapters
// translate provider-specific webhook envelopes into Event; the ingest
// service translates Event into lifecycle commands.
package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type EventType string

const (
	EventTypeCaptured     EventType = "captured"
	EventTypeAuthorized   EventType = "authorized"
	EventTypeFailed       EventType = "failed"
	EventTypeRefunded     EventType = "refunded"
	EventTypeUnrecognized EventType = "unrecognized"
)

// Event is a gateway notification correlated to a subscription. AmountMinor
// is in the gateway's minor unit (paise); conversion to rupees happens when
// the event becomes a lifecycle command.
type Event struct {
	Type           EventType
	PaymentID      string
	OrderID        string
	AmountMinor    int64
	Currency       string
	Method         string
	SubscriptionID snowflake.ID
	PlanName       string
	GatewayError   string
	RawPayload     []byte
}

// Verifier authenticates a raw webhook delivery before parsing.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
}

// Adapter turns a verified gateway payload into a canonical Event.
type Adapter interface {
	Verifier
	Parse(ctx context.Context, payload []byte) (*Event, error)
	// VerifyCheckout authenticates a client-side checkout callback
	// (orderID|paymentID signed with the key secret).
	VerifyCheckout(orderID, paymentID, signature string) error
}

// Service ingests gateway deliveries and drives lifecycle transitions.
type Service interface {
	// Ingest verifies, parses and applies a webhook delivery. Ignored and
	// duplicate events return nil.
	Ingest(ctx context.Context, payload []byte, headers http.Header) error
	// VerifyManualPayment authenticates a checkout callback and activates
	// the subscription it references.
	VerifyManualPayment(ctx context.Context, subscriptionID snowflake.ID, paymentID, orderID, signature string) error
}

var (
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrEventIgnored         = errors.New("event_ignored")
	ErrNotSubscriptionEvent = errors.New("not_subscription_event")
)
