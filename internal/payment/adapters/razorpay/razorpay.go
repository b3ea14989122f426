// Package razorpay adapts Razorpay webhook envelopes to the canonical
// gateway event model.
package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/tably/internal/payment/domain"
)

const signatureHeader = "X-Razorpay-Signature"

type Adapter struct {
	keySecret     string
	webhookSecret string
}

func NewAdapter(keySecret, webhookSecret string) *Adapter {
	return &Adapter{
		keySecret:     strings.TrimSpace(keySecret),
		webhookSecret: strings.TrimSpace(webhookSecret),
	}
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" || a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// VerifyCheckout authenticates a checkout callback. Razorpay signs
// "orderID|paymentID" with the key secret, not the webhook secret.
func (a *Adapter) VerifyCheckout(orderID, paymentID, signature string) error {
	if a.keySecret == "" || strings.TrimSpace(signature) == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.keySecret))
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var envelope razorpayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var eventType paymentdomain.EventType
	switch strings.TrimSpace(envelope.Event) {
	case "payment.captured":
		eventType = paymentdomain.EventTypeCaptured
	case "payment.authorized":
		eventType = paymentdomain.EventTypeAuthorized
	case "payment.failed":
		eventType = paymentdomain.EventTypeFailed
	case "refund.processed":
		eventType = paymentdomain.EventTypeRefunded
	default:
		return &paymentdomain.Event{
			Type:       paymentdomain.EventTypeUnrecognized,
			RawPayload: payload,
		}, nil
	}

	entity := envelope.Payload.Payment.Entity
	if eventType == paymentdomain.EventTypeRefunded {
		refund := envelope.Payload.Refund.Entity
		if strings.TrimSpace(refund.ID) == "" {
			return nil, paymentdomain.ErrInvalidPayload
		}
		// The refund envelope carries its own notes; fall back to the
		// payment entity's when the refund was issued without any.
		notes := refund.Notes
		if notes.Type == "" {
			notes = entity.Notes
		}
		subscriptionID, err := subscriptionIDFromNotes(notes)
		if err != nil {
			return nil, err
		}
		return &paymentdomain.Event{
			Type:           eventType,
			PaymentID:      refund.PaymentID,
			AmountMinor:    refund.Amount,
			Currency:       strings.ToUpper(strings.TrimSpace(refund.Currency)),
			SubscriptionID: subscriptionID,
			PlanName:       notes.PlanName,
			RawPayload:     payload,
		}, nil
	}

	if strings.TrimSpace(entity.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	subscriptionID, err := subscriptionIDFromNotes(entity.Notes)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.Event{
		Type:           eventType,
		PaymentID:      entity.ID,
		OrderID:        entity.OrderID,
		AmountMinor:    entity.Amount,
		Currency:       strings.ToUpper(strings.TrimSpace(entity.Currency)),
		Method:         entity.Method,
		SubscriptionID: subscriptionID,
		PlanName:       entity.Notes.PlanName,
		GatewayError:   strings.TrimSpace(entity.ErrorDescription),
		RawPayload:     payload,
	}, nil
}

// subscriptionIDFromNotes correlates the delivery to a subscription. Only
// payments created by this platform carry notes.type == "subscription";
// everything else on the same Razorpay account is ignored.
func subscriptionIDFromNotes(notes razorpayNotes) (snowflake.ID, error) {
	if notes.Type != "subscription" {
		return 0, paymentdomain.ErrNotSubscriptionEvent
	}
	raw := strings.TrimSpace(notes.SubscriptionID)
	if raw == "" {
		return 0, paymentdomain.ErrNotSubscriptionEvent
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, paymentdomain.ErrNotSubscriptionEvent
	}
	return id, nil
}

type razorpayEnvelope struct {
	Event   string          `json:"event"`
	Payload razorpayPayload `json:"payload"`
}

type razorpayPayload struct {
	Payment razorpayPaymentWrap `json:"payment"`
	Refund  razorpayRefundWrap  `json:"refund"`
}

type razorpayPaymentWrap struct {
	Entity razorpayPayment `json:"entity"`
}

type razorpayRefundWrap struct {
	Entity razorpayRefund `json:"entity"`
}

type razorpayPayment struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"order_id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           string        `json:"status"`
	Method           string        `json:"method"`
	ErrorDescription string        `json:"error_description"`
	Notes            razorpayNotes `json:"notes"`
}

type razorpayRefund struct {
	ID        string        `json:"id"`
	PaymentID string        `json:"payment_id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Notes     razorpayNotes `json:"notes"`
}

type razorpayNotes struct {
	Type           string `json:"type"`
	SubscriptionID string `json:"subscriptionId"`
	PlanName       string `json:"planName"`
}
