package notification

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tably/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewProviderFromConfig(cfg config.Config) Provider {
	if cfg.Email.SMTPHost == "" {
		return noopProvider{}
	}
	return NewSMTP(SMTPConfig{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}

// NewUnresolvedEmailResolver is the default resolver; the platform monolith
// replaces it with one backed by its admin directory.
func NewUnresolvedEmailResolver() EmailResolver {
	return func(ctx context.Context, adminID snowflake.ID) (string, error) {
		return "", nil
	}
}

func NewDispatcherFromConfig(provider Provider, resolve EmailResolver, log *zap.Logger) Dispatcher {
	return NewDispatcher(provider, resolve, log)
}

var Module = fx.Module("notification",
	fx.Provide(NewProviderFromConfig),
	fx.Provide(NewUnresolvedEmailResolver),
	fx.Provide(NewDispatcherFromConfig),
)
