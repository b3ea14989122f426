package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProvider struct {
	sent []sentMail
	err  error
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func (p *fakeProvider) Send(ctx context.Context, to []string, subject, body string) error {
	p.sent = append(p.sent, sentMail{to: to, subject: subject, body: body})
	return p.err
}

func newTestDispatcher(t *testing.T, provider *fakeProvider, resolve EmailResolver) Dispatcher {
	t.Helper()
	if resolve == nil {
		resolve = func(ctx context.Context, adminID snowflake.ID) (string, error) {
			return "owner@hotel.test", nil
		}
	}
	return NewDispatcher(provider, resolve, zap.NewNop())
}

func testAdminID(t *testing.T) snowflake.ID {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node.Generate()
}

func TestDispatcherSendsToResolvedAddress(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider, nil)

	d.SubscriptionActivated(context.Background(), testAdminID(t), "growth", time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC))

	require.Len(t, provider.sent, 1)
	assert.Equal(t, []string{"owner@hotel.test"}, provider.sent[0].to)
	assert.Contains(t, provider.sent[0].body, "growth")
	assert.Contains(t, provider.sent[0].body, "10 Apr 2025")
}

func TestDispatcherDropsUnresolvedAdmin(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider, func(ctx context.Context, adminID snowflake.ID) (string, error) {
		return "", errors.New("no such admin")
	})

	d.SubscriptionExpired(context.Background(), testAdminID(t), "growth")
	assert.Empty(t, provider.sent, "unresolved admin must not produce a send attempt")
}

func TestDispatcherSwallowsProviderErrors(t *testing.T) {
	provider := &fakeProvider{err: errors.New("smtp down")}
	d := newTestDispatcher(t, provider, nil)

	// Best effort: a failing provider must not panic or surface an error.
	d.PaymentRetry(context.Background(), testAdminID(t), "starter")
	assert.Len(t, provider.sent, 1)
}

func TestRenewalReminderCarriesDaysLeft(t *testing.T) {
	provider := &fakeProvider{}
	d := newTestDispatcher(t, provider, nil)

	d.RenewalReminder(context.Background(), testAdminID(t), "growth", 3)
	require.Len(t, provider.sent, 1)
	assert.Contains(t, provider.sent[0].subject, "3 day")
}
