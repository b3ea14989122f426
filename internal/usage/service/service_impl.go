package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tably/internal/clock"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tably/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	plansvc plandomain.Service
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	PlanSvc plandomain.Service
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		plansvc: p.PlanSvc,
	}
}

// trackable are the statuses whose counters still matter. Archived records
// are frozen.
var trackable = []subscriptiondomain.Status{
	subscriptiondomain.StatusPendingPayment,
	subscriptiondomain.StatusActive,
	subscriptiondomain.StatusExpired,
	subscriptiondomain.StatusCancelled,
}

func (s *Service) Reinitialize(ctx context.Context, subscriptionID snowflake.ID) error {
	zeroed := subscriptiondomain.Usage{}
	updated, err := s.repo.UpdateIf(ctx, s.db, subscriptionID,
		subscriptiondomain.Precondition{Statuses: trackable},
		subscriptiondomain.Mutation{Usage: &zeroed},
		s.clock.Now(),
	)
	if err != nil {
		return err
	}
	if !updated {
		s.log.Info("usage reinitialize skipped",
			zap.String("subscription_id", subscriptionID.String()),
		)
		return nil
	}
	s.log.Info("usage reinitialized", zap.String("subscription_id", subscriptionID.String()))
	return nil
}

func (s *Service) ResetMonthlyOrders(ctx context.Context, subscriptionID snowflake.ID) error {
	sub, err := s.find(ctx, subscriptionID)
	if err != nil {
		return err
	}
	usage, err := sub.CurrentUsage()
	if err != nil {
		return err
	}
	if usage.OrdersThisMonth == 0 {
		return nil
	}
	usage.OrdersThisMonth = 0

	updated, err := s.repo.UpdateIf(ctx, s.db, subscriptionID,
		subscriptiondomain.Precondition{Statuses: trackable},
		subscriptiondomain.Mutation{Usage: &usage},
		s.clock.Now(),
	)
	if err != nil {
		return err
	}
	if !updated {
		s.log.Info("monthly order reset skipped",
			zap.String("subscription_id", subscriptionID.String()),
		)
		return nil
	}
	s.log.Info("monthly order counter reset",
		zap.String("subscription_id", subscriptionID.String()),
	)
	return nil
}

func (s *Service) Check(ctx context.Context, subscriptionID snowflake.ID, resource plandomain.ResourceType) (usagedomain.CheckResult, error) {
	sub, err := s.find(ctx, subscriptionID)
	if err != nil {
		return usagedomain.CheckResult{}, err
	}
	plan, err := s.plansvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return usagedomain.CheckResult{}, err
	}
	limit, err := plan.LimitFor(resource)
	if err != nil {
		return usagedomain.CheckResult{}, err
	}
	usage, err := sub.CurrentUsage()
	if err != nil {
		return usagedomain.CheckResult{}, err
	}

	current := counterFor(usage, resource)
	return usagedomain.CheckResult{
		Resource: resource,
		Current:  current,
		Limit:    float64(limit),
		Allowed:  current < float64(limit),
	}, nil
}

func (s *Service) HasFeature(ctx context.Context, subscriptionID snowflake.ID, feature string) (bool, error) {
	sub, err := s.find(ctx, subscriptionID)
	if err != nil {
		return false, err
	}
	plan, err := s.plansvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}
	return plan.HasFeature(feature), nil
}

func (s *Service) Snapshot(ctx context.Context, subscriptionID snowflake.ID) (usagedomain.Snapshot, error) {
	sub, err := s.find(ctx, subscriptionID)
	if err != nil {
		return usagedomain.Snapshot{}, err
	}
	plan, err := s.plansvc.GetByID(ctx, sub.PlanID)
	if err != nil {
		return usagedomain.Snapshot{}, err
	}
	usage, err := sub.CurrentUsage()
	if err != nil {
		return usagedomain.Snapshot{}, err
	}

	snap := usagedomain.Snapshot{
		Counters: make(map[plandomain.ResourceType]float64, len(plandomain.AllResourceTypes)),
		Limits:   make(map[plandomain.ResourceType]float64, len(plandomain.AllResourceTypes)),
	}
	for _, resource := range plandomain.AllResourceTypes {
		limit, err := plan.LimitFor(resource)
		if err != nil {
			return usagedomain.Snapshot{}, err
		}
		snap.Counters[resource] = counterFor(usage, resource)
		snap.Limits[resource] = float64(limit)
	}
	return snap, nil
}

func (s *Service) find(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func counterFor(usage subscriptiondomain.Usage, resource plandomain.ResourceType) float64 {
	switch resource {
	case plandomain.ResourceHotels:
		return float64(usage.Hotels)
	case plandomain.ResourceBranches:
		return float64(usage.Branches)
	case plandomain.ResourceManagers:
		return float64(usage.Managers)
	case plandomain.ResourceStaff:
		return float64(usage.Staff)
	case plandomain.ResourceTables:
		return float64(usage.Tables)
	case plandomain.ResourceOrdersThisMonth:
		return float64(usage.OrdersThisMonth)
	case plandomain.ResourceStorageGB:
		return usage.StorageUsedGB
	default:
		return 0
	}
}
