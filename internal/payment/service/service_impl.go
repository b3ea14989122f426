package service

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/tably/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log      *zap.Logger
	verifier paymentdomain.Verifier
	adapter  paymentdomain.Adapter
	subsvc   subscriptiondomain.Service
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Verifier paymentdomain.Verifier
	Adapter  paymentdomain.Adapter
	SubSvc   subscriptiondomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:      p.Log.Named("payment.ingest"),
		verifier: p.Verifier,
		adapter:  p.Adapter,
		subsvc:   p.SubSvc,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.verifier.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		return err
	}

	event, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrNotSubscriptionEvent) {
			// Same gateway account carries order payments too; those
			// deliveries are not ours.
			s.log.Debug("non-subscription event dropped")
			return nil
		}
		s.log.Warn("webhook payload rejected", zap.Error(err))
		return err
	}

	switch event.Type {
	case paymentdomain.EventTypeCaptured, paymentdomain.EventTypeAuthorized:
		// Authorization activates too: the capture delivery may land later
		// or not at all, and the conditional update turns the
		// capture-after-authorize redelivery into a no-op.
		return s.subsvc.Activate(ctx, event.SubscriptionID, subscriptiondomain.ActivationPayment{
			TransactionID: event.PaymentID,
			AmountMinor:   event.AmountMinor,
			Currency:      event.Currency,
			Method:        event.Method,
		})
	case paymentdomain.EventTypeFailed:
		return s.subsvc.RecordFailedPayment(ctx, event.SubscriptionID, event.GatewayError)
	case paymentdomain.EventTypeRefunded:
		return s.subsvc.Refund(ctx, event.SubscriptionID, subscriptiondomain.RefundPayment{
			TransactionID: event.PaymentID,
			AmountMinor:   event.AmountMinor,
			Currency:      event.Currency,
		})
	default:
		s.log.Info("unrecognized gateway event dropped")
		return nil
	}
}

func (s *Service) VerifyManualPayment(ctx context.Context, subscriptionID snowflake.ID, paymentID, orderID, signature string) error {
	if err := s.adapter.VerifyCheckout(orderID, paymentID, signature); err != nil {
		s.log.Warn("checkout signature rejected",
			zap.String("subscription_id", subscriptionID.String()),
			zap.String("payment_id", paymentID),
		)
		return err
	}
	// Amount is not part of the checkout callback; activation records the
	// plan's own price when the webhook has not landed first.
	return s.subsvc.Activate(ctx, subscriptionID, subscriptiondomain.ActivationPayment{
		TransactionID: paymentID,
		Method:        "razorpay",
	})
}
