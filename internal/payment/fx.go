package payment

import (
	"context"
	"net/http"

	"github.com/smallbiznis/tably/internal/config"
	"github.com/smallbiznis/tably/internal/payment/adapters/razorpay"
	paymentdomain "github.com/smallbiznis/tably/internal/payment/domain"
	"github.com/smallbiznis/tably/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// passthroughVerifier accepts every delivery. Wired only outside
// production, for local gateway simulation without a shared secret.
type passthroughVerifier struct {
	log *zap.Logger
}

func (v passthroughVerifier) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	v.log.Warn("webhook signature verification disabled")
	return nil
}

func NewAdapter(cfg config.Config) paymentdomain.Adapter {
	return razorpay.NewAdapter(cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret)
}

func NewVerifier(cfg config.Config, log *zap.Logger, adapter paymentdomain.Adapter) paymentdomain.Verifier {
	if !cfg.IsProduction() && cfg.Razorpay.WebhookSecret == "" {
		return passthroughVerifier{log: log.Named("payment.verifier")}
	}
	return adapter
}

var Module = fx.Module("payment",
	fx.Provide(
		NewAdapter,
		NewVerifier,
		service.NewService,
	),
)
