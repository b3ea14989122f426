package scheduler

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	"go.uber.org/zap"
)

// ExpiryCheckerJob expires active subscriptions whose end date has passed.
func (s *Scheduler) ExpiryCheckerJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.repo.FindWithEndDateBetween(ctx, s.db, subscriptiondomain.StatusActive, time.Time{}, now, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			break
		}

		progressed := 0
		for _, sub := range subs {
			if err := s.subSvc.Expire(ctx, sub.ID); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
				continue
			}
			run.AddProcessed(1)
			progressed++
		}
		// Every record in the batch failed; a retry this run would spin
		// on the same rows.
		if progressed == 0 {
			break
		}
	}
	return jobErr
}

// RenewalReminderJob notifies admins whose subscriptions end in exactly
// one of the configured day windows. Re-running within the same day is
// harmless: the dispatcher is fire-and-forget and the windows are
// whole-day buckets.
func (s *Scheduler) RenewalReminderJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	var jobErr error

	for _, days := range s.cfg.ReminderWindows {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		from := now.AddDate(0, 0, days)
		windowStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
		windowEnd := windowStart.AddDate(0, 0, 1)

		subs, err := s.repo.FindWithEndDateBetween(ctx, s.db, subscriptiondomain.StatusActive, windowStart, windowEnd, s.cfg.BatchSize)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		for _, sub := range subs {
			if sub.AutoRenew {
				// Auto-renewal handles these; a reminder would only confuse.
				continue
			}
			plan, err := s.planSvc.GetByID(ctx, sub.PlanID)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
				continue
			}
			s.dispatcher.RenewalReminder(ctx, sub.AdminID, plan.Name, days)
			run.AddProcessed(1)
		}
	}
	return jobErr
}

// UsageResetJob zeroes the monthly order counter on every non-archived
// subscription.
func (s *Scheduler) UsageResetJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	var jobErr error

	for _, status := range []subscriptiondomain.Status{
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusPendingPayment,
	} {
		offset := 0
		for {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			subs, err := s.repo.FindByStatus(ctx, s.db, status, s.cfg.BatchSize, offset)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				break
			}
			if len(subs) == 0 {
				break
			}
			for _, sub := range subs {
				if err := s.usageSvc.ResetMonthlyOrders(ctx, sub.ID); err != nil {
					jobErr = errors.Join(jobErr, err)
					s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
					continue
				}
				run.AddProcessed(1)
			}
			offset += len(subs)
		}
	}
	return jobErr
}

// AutoRenewalJob renews subscriptions expiring within the next day that
// opted into auto-renew. The end-date precondition inside Renew makes a
// duplicate run a no-op.
func (s *Scheduler) AutoRenewalJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	var jobErr error

	subs, err := s.repo.FindAutoRenewDue(ctx, s.db, now, now.AddDate(0, 0, 1), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.subSvc.Renew(ctx, sub.ID); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
			continue
		}
		run.AddProcessed(1)
	}
	return jobErr
}

// PaymentRetryJob nudges admins who attempted payment recently but are
// still stuck in pending_payment. The recency filter reads the embedded
// ledger, so it runs in Go rather than SQL.
func (s *Scheduler) PaymentRetryJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.RetryLookback)
	var jobErr error

	offset := 0
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.repo.FindByStatus(ctx, s.db, subscriptiondomain.StatusPendingPayment, s.cfg.BatchSize, offset)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			break
		}
		for _, sub := range subs {
			records, err := sub.Payments()
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
				continue
			}
			if !hasRecentFailure(records, cutoff) {
				continue
			}
			plan, err := s.planSvc.GetByID(ctx, sub.PlanID)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
				continue
			}
			s.dispatcher.PaymentRetry(ctx, sub.AdminID, plan.Name)
			run.AddProcessed(1)
		}
		offset += len(subs)
	}
	return jobErr
}

// InactiveCleanupJob archives subscriptions that have sat expired past the
// cooldown. Archival is terminal; the service re-checks the cooldown.
func (s *Scheduler) InactiveCleanupJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	now := s.clock.Now()
	cutoff := now.Add(-subscriptiondomain.ArchiveCooldown)
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		subs, err := s.repo.FindArchivable(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(subs) == 0 {
			break
		}

		progressed := 0
		for _, sub := range subs {
			if err := s.subSvc.Archive(ctx, sub.ID); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logJobError(run, err, zap.String("subscription_id", sub.ID.String()))
				continue
			}
			run.AddProcessed(1)
			progressed++
		}
		if progressed == 0 {
			break
		}
	}
	return jobErr
}

func hasRecentFailure(records []subscriptiondomain.PaymentRecord, cutoff time.Time) bool {
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if record.Status != subscriptiondomain.PaymentStatusFailed {
			continue
		}
		if record.Date.After(cutoff) {
			return true
		}
		// History is append-only and ordered; older entries cannot match.
		break
	}
	return false
}
