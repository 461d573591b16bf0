package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/cache"
	"github.com/smallbiznis/voxbill/internal/clock"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSubscriptionCacheTTL = 45 * time.Second

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
	Cache cache.ResolverCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  subscriptiondomain.Repository
	cache cache.ResolverCache
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,
	}
}

func (s *Service) GetCurrent(ctx context.Context, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	if orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	if s.cache != nil {
		if cached, ok := s.cache.GetSubscription(orgID); ok && now.Before(cached.CurrentPeriodEnd) {
			return &cached, nil
		}
	}

	subscription, err := s.repo.FindCurrent(ctx, s.db, orgID, subscriptiondomain.CurrentStatuses)
	if err != nil {
		s.log.Error("failed to load current subscription", zap.String("org_id", orgID.String()), zap.Error(err))
		return nil, err
	}
	if subscription == nil {
		return nil, nil
	}

	if s.cache != nil {
		ttl := min(subscription.CurrentPeriodEnd.Sub(now), maxSubscriptionCacheTTL)
		s.cache.SetSubscription(orgID, *subscription, ttl)
	}
	return subscription, nil
}

func (s *Service) ListPaidInvoices(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]subscriptiondomain.Invoice, error) {
	if orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}
	return s.repo.ListPaidInvoices(ctx, s.db, orgID, from.UTC(), to.UTC())
}
