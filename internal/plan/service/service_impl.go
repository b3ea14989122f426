package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo plandomain.Repository
}

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo plandomain.Repository
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("plan.service"),
		repo: p.Repo,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) ListActive(ctx context.Context) ([]plandomain.Plan, error) {
	return s.repo.ListActive(ctx, s.db)
}
