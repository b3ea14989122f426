package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindCurrentByAdminID(ctx context.Context, db *gorm.DB, adminID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("admin_id = ? AND status <> ?", adminID, subscriptiondomain.StatusArchived).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateIf is the compare-and-swap primitive every lifecycle transition goes
// through. The mutation is applied in a single conditional UPDATE guarded by
// the precondition's status set (and end date, when given); the row lock
// serializes concurrent appends to the embedded payment history.
func (r *repo) UpdateIf(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	pre subscriptiondomain.Precondition,
	m subscriptiondomain.Mutation,
	now time.Time,
) (bool, error) {
	if len(pre.Statuses) == 0 {
		return false, subscriptiondomain.ErrConflict
	}

	updated := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("id = ?", id)
		if tx.Dialector.Name() != "sqlite" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var sub subscriptiondomain.Subscription
		if err := query.First(&sub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return subscriptiondomain.ErrSubscriptionNotFound
			}
			return err
		}

		if !statusIn(sub.Status, pre.Statuses) {
			return nil
		}
		if pre.EndDate != nil && !sub.EndDate.Equal(*pre.EndDate) {
			return nil
		}

		updates := map[string]any{"last_updated": now}
		if m.Status != nil {
			updates["status"] = *m.Status
		}
		if m.StartDate != nil {
			updates["start_date"] = *m.StartDate
		}
		if m.EndDate != nil {
			updates["end_date"] = *m.EndDate
		}
		if m.AutoRenew != nil {
			updates["auto_renew"] = *m.AutoRenew
		}
		if m.PlanID != nil {
			updates["plan_id"] = *m.PlanID
		}
		if m.BillingCycle != nil {
			updates["billing_cycle"] = *m.BillingCycle
		}
		if m.CancellationReason != nil {
			updates["cancellation_reason"] = *m.CancellationReason
		}
		if m.CancelledAt != nil {
			updates["cancelled_at"] = *m.CancelledAt
		}
		if m.Usage != nil {
			raw, err := subscriptiondomain.EncodeUsage(*m.Usage)
			if err != nil {
				return err
			}
			updates["usage"] = raw
		}
		if m.AppendPayment != nil {
			records, err := sub.Payments()
			if err != nil {
				return err
			}
			records = append(records, *m.AppendPayment)
			raw, err := subscriptiondomain.EncodePayments(records)
			if err != nil {
				return err
			}
			updates["payment_history"] = raw
		}

		write := tx.Model(&subscriptiondomain.Subscription{}).
			Where("id = ? AND status IN ?", id, statusStrings(pre.Statuses))
		if pre.EndDate != nil {
			write = write.Where("end_date = ?", *pre.EndDate)
		}
		result := write.Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		updated = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

func (r *repo) FindWithEndDateBetween(ctx context.Context, db *gorm.DB, status subscriptiondomain.Status, from, to time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND end_date >= ? AND end_date < ?", status, from, to).
		Order("end_date ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindAutoRenewDue(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND auto_renew = ? AND end_date >= ? AND end_date < ?",
			subscriptiondomain.StatusActive, true, from, to).
		Order("end_date ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindByStatus(ctx context.Context, db *gorm.DB, status subscriptiondomain.Status, limit int, offset int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) FindArchivable(ctx context.Context, db *gorm.DB, endedBefore time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND end_date < ?", subscriptiondomain.StatusExpired, endedBefore).
		Order("end_date ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func statusIn(status subscriptiondomain.Status, set []subscriptiondomain.Status) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func statusStrings(set []subscriptiondomain.Status) []string {
	out := make([]string, 0, len(set))
	for _, s := range set {
		out = append(out, string(s))
	}
	return out
}
