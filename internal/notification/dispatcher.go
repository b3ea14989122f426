// Package notification is the best-effort email side channel. Delivery is
// never a precondition for committing a lifecycle transition; failures are
// logged and dropped.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Dispatcher sends lifecycle notifications. Every method is fire-and-forget
// with its own timeout; implementations must not block callers beyond it.
type Dispatcher interface {
	SubscriptionActivated(ctx context.Context, adminID snowflake.ID, planName string, endDate time.Time)
	SubscriptionExpired(ctx context.Context, adminID snowflake.ID, planName string)
	RenewalReminder(ctx context.Context, adminID snowflake.ID, planName string, daysLeft int)
	AutoRenewed(ctx context.Context, adminID snowflake.ID, planName string, newEndDate time.Time)
	PaymentRetry(ctx context.Context, adminID snowflake.ID, planName string)
}

// EmailResolver maps an admin tenant to its contact address. Admin profiles
// live in the platform's auth subsystem, outside this module.
type EmailResolver func(ctx context.Context, adminID snowflake.ID) (string, error)

const sendTimeout = 10 * time.Second

type emailDispatcher struct {
	provider Provider
	resolve  EmailResolver
	log      *zap.Logger
}

func NewDispatcher(provider Provider, resolve EmailResolver, log *zap.Logger) Dispatcher {
	return &emailDispatcher{
		provider: provider,
		resolve:  resolve,
		log:      log.Named("notification.dispatcher"),
	}
}

func (d *emailDispatcher) send(parent context.Context, adminID snowflake.ID, subject, body string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), sendTimeout)
	defer cancel()

	to, err := d.resolve(ctx, adminID)
	if err != nil || to == "" {
		d.log.Debug("admin email unresolved, notification dropped",
			zap.String("admin_id", adminID.String()),
			zap.Error(err),
		)
		return
	}

	if err := d.provider.Send(ctx, []string{to}, subject, body); err != nil {
		d.log.Warn("notification delivery failed",
			zap.String("admin_id", adminID.String()),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

func (d *emailDispatcher) SubscriptionActivated(ctx context.Context, adminID snowflake.ID, planName string, endDate time.Time) {
	d.send(ctx, adminID,
		"Your subscription is active",
		fmt.Sprintf("<p>Your <b>%s</b> subscription is active until %s.</p>", planName, endDate.Format("2 Jan 2006")),
	)
}

func (d *emailDispatcher) SubscriptionExpired(ctx context.Context, adminID snowflake.ID, planName string) {
	d.send(ctx, adminID,
		"Your subscription has expired",
		fmt.Sprintf("<p>Your <b>%s</b> subscription has expired. Renew to restore access.</p>", planName),
	)
}

func (d *emailDispatcher) RenewalReminder(ctx context.Context, adminID snowflake.ID, planName string, daysLeft int) {
	d.send(ctx, adminID,
		fmt.Sprintf("Your subscription expires in %d day(s)", daysLeft),
		fmt.Sprintf("<p>Your <b>%s</b> subscription expires in %d day(s).</p>", planName, daysLeft),
	)
}

func (d *emailDispatcher) AutoRenewed(ctx context.Context, adminID snowflake.ID, planName string, newEndDate time.Time) {
	d.send(ctx, adminID,
		"Your subscription was renewed",
		fmt.Sprintf("<p>Your <b>%s</b> subscription was renewed until %s.</p>", planName, newEndDate.Format("2 Jan 2006")),
	)
}

func (d *emailDispatcher) PaymentRetry(ctx context.Context, adminID snowflake.ID, planName string) {
	d.send(ctx, adminID,
		"Complete your subscription payment",
		fmt.Sprintf("<p>Your payment for the <b>%s</b> plan did not go through. Please retry.</p>", planName),
	)
}

// NoOpDispatcher drops every notification. Used when SMTP is not configured.
type NoOpDispatcher struct{}

func (NoOpDispatcher) SubscriptionActivated(context.Context, snowflake.ID, string, time.Time) {}
func (NoOpDispatcher) SubscriptionExpired(context.Context, snowflake.ID, string)              {}
func (NoOpDispatcher) RenewalReminder(context.Context, snowflake.ID, string, int)             {}
func (NoOpDispatcher) AutoRenewed(context.Context, snowflake.ID, string, time.Time)           {}
func (NoOpDispatcher) PaymentRetry(context.Context, snowflake.ID, string)                     {}
