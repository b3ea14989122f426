package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/tably/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo subscriptiondomain.Repository
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo subscriptiondomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("ledger.service"),
		repo: p.Repo,
	}
}

// appendable are the states a journal entry may still be recorded against.
var appendable = []subscriptiondomain.Status{
	subscriptiondomain.StatusPendingPayment,
	subscriptiondomain.StatusActive,
	subscriptiondomain.StatusExpired,
	subscriptiondomain.StatusCancelled,
}

func (s *Service) Append(ctx context.Context, subscriptionID snowflake.ID, record subscriptiondomain.PaymentRecord, within []subscriptiondomain.Status) error {
	if record.Status == "" || record.Date.IsZero() {
		return ledgerdomain.ErrInvalidRecord
	}
	states := within
	if states == nil {
		states = appendable
	}

	updated, err := s.repo.UpdateIf(ctx, s.db, subscriptionID,
		subscriptiondomain.Precondition{Statuses: states},
		subscriptiondomain.Mutation{AppendPayment: &record},
		record.Date,
	)
	if err != nil {
		return err
	}
	if !updated {
		if within != nil {
			return ledgerdomain.ErrStateConflict
		}
		return ledgerdomain.ErrSubscriptionArchived
	}

	s.log.Debug("ledger entry appended",
		zap.String("subscription_id", subscriptionID.String()),
		zap.String("status", string(record.Status)),
		zap.Int64("amount", record.Amount),
	)
	return nil
}

func (s *Service) History(ctx context.Context, subscriptionID snowflake.ID) ([]subscriptiondomain.PaymentRecord, error) {
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub.Payments()
}
