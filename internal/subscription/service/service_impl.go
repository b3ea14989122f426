// Package service implements the subscription lifecycle state machine.
// Every transition is a compare-and-swap against the repository: the write
// lands only while the record's status still matches the edge's
// precondition, so duplicate deliveries and racing writers degrade to
// logged no-ops instead of double transitions or double ledger entries.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tably/internal/clock"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/internal/notification"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	plansvc    plandomain.Service
	ledgersvc  ledgerdomain.Service
	dispatcher notification.Dispatcher
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	PlanSvc    plandomain.Service
	LedgerSvc  ledgerdomain.Service
	Dispatcher notification.Dispatcher
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		plansvc:    p.PlanSvc,
		ledgersvc:  p.LedgerSvc,
		dispatcher: p.Dispatcher,
	}
}

func (s *Service) CreatePending(ctx context.Context, req subscriptiondomain.CreatePendingRequest) (subscriptiondomain.Subscription, error) {
	if !req.BillingCycle.Valid() {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidBillingCycle
	}

	plan, err := s.plansvc.GetByID(ctx, req.PlanID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if !plan.IsActive {
		return subscriptiondomain.Subscription{}, plandomain.ErrPlanInactive
	}

	current, err := s.repo.FindCurrentByAdminID(ctx, s.db, req.AdminID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if current != nil && current.Status == subscriptiondomain.StatusActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrAdminHasSubscription
	}

	now := s.clock.Now()
	history, err := subscriptiondomain.EncodePayments(nil)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	usage, err := subscriptiondomain.EncodeUsage(subscriptiondomain.Usage{})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	// Placeholder window; activation recomputes both dates from the
	// payment capture time.
	sub := subscriptiondomain.Subscription{
		ID:             s.genID.Generate(),
		AdminID:        req.AdminID,
		PlanID:         req.PlanID,
		Status:         subscriptiondomain.StatusPendingPayment,
		BillingCycle:   req.BillingCycle,
		StartDate:      now,
		EndDate:        req.BillingCycle.AddTo(now),
		AutoRenew:      true,
		PaymentHistory: history,
		Usage:          usage,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	if err := s.repo.Insert(ctx, s.db, &sub); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("admin_id", req.AdminID.String()),
		zap.String("plan_id", req.PlanID.String()),
		zap.String("billing_cycle", string(req.BillingCycle)),
	)
	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) GetCurrentByAdminID(ctx context.Context, adminID snowflake.ID) (subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindCurrentByAdminID(ctx, s.db, adminID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID, payment subscriptiondomain.ActivationPayment) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	if sub.Status == subscriptiondomain.StatusActive {
		// Redelivered capture for an activation that already landed.
		s.logSkip(sub, subscriptiondomain.StatusActive, "already_active")
		return nil
	}
	if sub.Status != subscriptiondomain.StatusPendingPayment {
		s.logSkip(sub, subscriptiondomain.StatusActive, "illegal_transition")
		return nil
	}

	plan, err := s.plansvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return err
	}

	// Activation starts the window at the capture time; renewal is the
	// only edge that extends an existing window instead.
	now := s.clock.Now()
	start := now
	end := sub.BillingCycle.AddTo(start)
	active := subscriptiondomain.StatusActive
	usage := subscriptiondomain.Usage{}

	currency := payment.Currency
	if currency == "" {
		currency = plan.Currency
	}
	// Checkout callbacks do not carry an amount; fall back to the plan's
	// own rate for the cycle.
	amount := payment.AmountMinor / 100
	if amount == 0 {
		if price, priceErr := plan.PriceFor(string(sub.BillingCycle)); priceErr == nil {
			amount = price
		}
	}
	record := subscriptiondomain.PaymentRecord{
		Amount:        amount,
		Currency:      currency,
		Method:        payment.Method,
		TransactionID: payment.TransactionID,
		Date:          now,
		Status:        subscriptiondomain.PaymentStatusSuccess,
	}

	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusPendingPayment}},
		subscriptiondomain.Mutation{
			Status:        &active,
			StartDate:     &start,
			EndDate:       &end,
			Usage:         &usage,
			AppendPayment: &record,
		},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		// A concurrent verify or webhook won the activation; skip the
		// append entirely rather than record a second success entry.
		s.logSkip(sub, subscriptiondomain.StatusActive, "lost_race")
		return nil
	}

	s.log.Info("subscription activated",
		zap.String("subscription_id", id.String()),
		zap.String("transaction_id", payment.TransactionID),
		zap.Time("end_date", end),
	)
	go s.dispatcher.SubscriptionActivated(ctx, sub.AdminID, plan.Name, end)
	return nil
}

func (s *Service) RecordFailedPayment(ctx context.Context, id snowflake.ID, gatewayError string) error {
	now := s.clock.Now()
	err := s.ledgersvc.Append(ctx, id, subscriptiondomain.PaymentRecord{
		Amount:   0,
		Currency: "INR",
		Date:     now,
		Status:   subscriptiondomain.PaymentStatusFailed,
		Note:     gatewayError,
	}, []subscriptiondomain.Status{subscriptiondomain.StatusPendingPayment})
	if errors.Is(err, ledgerdomain.ErrStateConflict) {
		// Late failure delivery for a record that already moved on; the
		// active audit trail must not pick up a stale failed entry.
		s.log.Info("transition skipped",
			zap.String("subscription_id", id.String()),
			zap.String("to", string(subscriptiondomain.StatusPendingPayment)),
			zap.String("reason", "stale_failure_delivery"),
		)
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("failed payment recorded",
		zap.String("subscription_id", id.String()),
		zap.String("gateway_error", gatewayError),
	)
	return nil
}

func (s *Service) Refund(ctx context.Context, id snowflake.ID, refund subscriptiondomain.RefundPayment) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status != subscriptiondomain.StatusActive {
		s.logSkip(sub, subscriptiondomain.StatusCancelled, "illegal_transition")
		return nil
	}

	now := s.clock.Now()
	cancelled := subscriptiondomain.StatusCancelled
	noRenew := false
	currency := refund.Currency
	if currency == "" {
		currency = "INR"
	}
	record := subscriptiondomain.PaymentRecord{
		Amount:        -refund.AmountMinor / 100,
		Currency:      currency,
		TransactionID: refund.TransactionID,
		Date:          now,
		Status:        subscriptiondomain.PaymentStatusRefunded,
	}

	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive}},
		subscriptiondomain.Mutation{
			Status:        &cancelled,
			AutoRenew:     &noRenew,
			AppendPayment: &record,
		},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		s.logSkip(sub, cancelled, "lost_race")
		return nil
	}

	s.log.Info("subscription cancelled on refund",
		zap.String("subscription_id", id.String()),
		zap.String("transaction_id", refund.TransactionID),
		zap.Int64("amount", record.Amount),
	)
	return nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) error {
	if reason == "" {
		return subscriptiondomain.ErrInvalidReason
	}

	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status != subscriptiondomain.StatusActive {
		s.logSkip(sub, subscriptiondomain.StatusCancelled, "illegal_transition")
		return nil
	}

	now := s.clock.Now()
	cancelled := subscriptiondomain.StatusCancelled
	noRenew := false
	record := subscriptiondomain.PaymentRecord{
		Amount:   0,
		Currency: "INR",
		Date:     now,
		Status:   subscriptiondomain.PaymentStatusRefunded,
		Note:     fmt.Sprintf("cancelled by admin: %s", reason),
	}

	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive}},
		subscriptiondomain.Mutation{
			Status:             &cancelled,
			AutoRenew:          &noRenew,
			CancellationReason: &reason,
			CancelledAt:        &now,
			AppendPayment:      &record,
		},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		s.logSkip(sub, cancelled, "lost_race")
		return nil
	}

	s.log.Info("subscription cancelled",
		zap.String("subscription_id", id.String()),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) Expire(ctx context.Context, id snowflake.ID) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	expired := subscriptiondomain.StatusExpired
	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive}},
		subscriptiondomain.Mutation{Status: &expired},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		s.logSkip(sub, expired, "lost_race")
		return nil
	}

	s.log.Info("subscription expired",
		zap.String("subscription_id", id.String()),
		zap.Time("end_date", sub.EndDate),
	)
	if plan, planErr := s.plansvc.GetByID(ctx, sub.PlanID); planErr == nil {
		go s.dispatcher.SubscriptionExpired(ctx, sub.AdminID, plan.Name)
	}
	return nil
}

func (s *Service) Renew(ctx context.Context, id snowflake.ID) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status != subscriptiondomain.StatusActive {
		s.logSkip(sub, subscriptiondomain.StatusActive, "illegal_transition")
		return nil
	}

	plan, err := s.plansvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	price, err := plan.PriceFor(string(sub.BillingCycle))
	if err != nil {
		return err
	}

	// The renewal window extends the existing one: it begins where the old
	// window ended, never at "now".
	now := s.clock.Now()
	oldEnd := sub.EndDate
	newStart := oldEnd
	newEnd := sub.BillingCycle.AddTo(newStart)
	active := subscriptiondomain.StatusActive
	record := subscriptiondomain.PaymentRecord{
		Amount:   price,
		Currency: plan.Currency,
		Date:     now,
		Status:   subscriptiondomain.PaymentStatusAutoRenewed,
		Note:     fmt.Sprintf("auto renewal, %s cycle", sub.BillingCycle),
	}

	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{
			Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive},
			EndDate:  &oldEnd,
		},
		subscriptiondomain.Mutation{
			Status:        &active,
			StartDate:     &newStart,
			EndDate:       &newEnd,
			AppendPayment: &record,
		},
		now,
	)
	if err != nil {
		// Compensate so the next pass does not loop on the same failure;
		// the admin is expected to renew manually.
		s.disableAutoRenew(ctx, id)
		return err
	}
	if !updated {
		s.logSkip(sub, active, "lost_race")
		return nil
	}

	s.log.Info("subscription renewed",
		zap.String("subscription_id", id.String()),
		zap.Time("new_start", newStart),
		zap.Time("new_end", newEnd),
		zap.Int64("amount", price),
	)
	go s.dispatcher.AutoRenewed(ctx, sub.AdminID, plan.Name, newEnd)
	return nil
}

func (s *Service) Archive(ctx context.Context, id snowflake.ID) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	if sub.Status != subscriptiondomain.StatusExpired {
		s.logSkip(sub, subscriptiondomain.StatusArchived, "illegal_transition")
		return nil
	}
	if now.Sub(sub.EndDate) < subscriptiondomain.ArchiveCooldown {
		s.logSkip(sub, subscriptiondomain.StatusArchived, "cooldown_not_elapsed")
		return nil
	}

	archived := subscriptiondomain.StatusArchived
	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusExpired}},
		subscriptiondomain.Mutation{Status: &archived},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		s.logSkip(sub, archived, "lost_race")
		return nil
	}

	s.log.Info("subscription archived", zap.String("subscription_id", id.String()))
	return nil
}

func (s *Service) Upgrade(ctx context.Context, req subscriptiondomain.UpgradeRequest) error {
	if !req.BillingCycle.Valid() {
		return subscriptiondomain.ErrInvalidBillingCycle
	}

	sub, err := s.repo.FindByID(ctx, s.db, req.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status != subscriptiondomain.StatusActive {
		return subscriptiondomain.ErrInvalidPlan
	}

	plan, err := s.plansvc.GetByID(ctx, req.NewPlanID)
	if err != nil {
		return err
	}
	if !plan.IsActive {
		return plandomain.ErrPlanInactive
	}
	price, err := plan.PriceFor(string(req.BillingCycle))
	if err != nil {
		return err
	}

	now := s.clock.Now()
	record := subscriptiondomain.PaymentRecord{
		Amount:   price,
		Currency: plan.Currency,
		Date:     now,
		Status:   subscriptiondomain.PaymentStatusPending,
		Note:     fmt.Sprintf("upgrade to plan %s", plan.Name),
	}

	updated, err := s.repo.UpdateIf(ctx, s.db, req.SubscriptionID,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive}},
		subscriptiondomain.Mutation{
			PlanID:        &req.NewPlanID,
			BillingCycle:  &req.BillingCycle,
			AppendPayment: &record,
		},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		s.logSkip(sub, subscriptiondomain.StatusActive, "lost_race")
		return nil
	}

	s.log.Info("subscription upgraded",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("new_plan_id", req.NewPlanID.String()),
		zap.String("billing_cycle", string(req.BillingCycle)),
	)
	return nil
}

func (s *Service) SetAutoRenew(ctx context.Context, id snowflake.ID, autoRenew bool) error {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}

	now := s.clock.Now()
	updated, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive}},
		subscriptiondomain.Mutation{AutoRenew: &autoRenew},
		now,
	)
	if err != nil {
		return err
	}
	if !updated {
		s.logSkip(sub, sub.Status, "not_active")
	}
	return nil
}

func (s *Service) disableAutoRenew(ctx context.Context, id snowflake.ID) {
	noRenew := false
	_, err := s.repo.UpdateIf(ctx, s.db, id,
		subscriptiondomain.Precondition{Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive}},
		subscriptiondomain.Mutation{AutoRenew: &noRenew},
		s.clock.Now(),
	)
	if err != nil {
		s.log.Error("auto-renew compensation failed",
			zap.String("subscription_id", id.String()),
			zap.Error(err),
		)
		return
	}
	s.log.Warn("auto-renew disabled after renewal failure",
		zap.String("subscription_id", id.String()),
	)
}

func (s *Service) logSkip(sub *subscriptiondomain.Subscription, target subscriptiondomain.Status, reason string) {
	s.log.Info("transition skipped",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("from", string(sub.Status)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)
}
