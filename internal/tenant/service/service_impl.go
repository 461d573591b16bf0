package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/cache"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"github.com/smallbiznis/voxbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Config config.Config
	Clock  clock.Clock
	Repo   tenantdomain.Repository
	Cache  cache.ResolverCache
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  tenantdomain.Repository
	cache cache.ResolverCache

	homeCountryCode string
	cacheTTL        time.Duration
}

func New(p Params) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.resolver"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cache: p.Cache,

		homeCountryCode: tenantdomain.NormalizeDigits(p.Config.Telephony.HomeCountryCode),
		cacheTTL:        p.Config.Telephony.ResolverCacheTTL,
	}
}

func (s *Service) Resolve(ctx context.Context, address string) (tenantdomain.TenantContext, error) {
	digits := tenantdomain.NormalizeDigits(address)
	if digits == "" {
		return tenantdomain.TenantContext{}, tenantdomain.ErrNotFound
	}

	if s.cache != nil {
		if tenant, ok := s.cache.GetTenant(digits); ok {
			return tenant, nil
		}
	}

	number, err := s.repo.FindActiveByNumbers(ctx, s.db, tenantdomain.Candidates(digits, s.homeCountryCode))
	if err != nil {
		s.log.Error("failed to resolve phone number", zap.Error(err))
		return tenantdomain.TenantContext{}, err
	}
	if number == nil {
		s.log.Debug("no active phone number for address", zap.Int("digits", len(digits)))
		return tenantdomain.TenantContext{}, tenantdomain.ErrNotFound
	}

	tenant := tenantdomain.TenantContext{
		OrganizationID: number.OrganizationID,
		PhoneNumberID:  number.ID,
		Number:         number.Number,
	}
	if s.cache != nil {
		s.cache.SetTenant(digits, tenant, s.cacheTTL)
	}
	return tenant, nil
}

func (s *Service) CountActive(ctx context.Context, orgID snowflake.ID) (tenantdomain.NumberCounts, error) {
	if orgID == 0 {
		return tenantdomain.NumberCounts{}, tenantdomain.ErrInvalidOrganization
	}
	return s.repo.CountActive(ctx, s.db, orgID)
}

func (s *Service) Register(ctx context.Context, req tenantdomain.RegisterNumberRequest) (*tenantdomain.PhoneNumber, error) {
	if req.OrganizationID == 0 {
		return nil, tenantdomain.ErrInvalidOrganization
	}
	digits := tenantdomain.Canonical(req.Number, s.homeCountryCode)
	if len(digits) < 4 {
		return nil, tenantdomain.ErrInvalidNumber
	}

	existing, err := s.repo.FindByNumbers(ctx, s.db, tenantdomain.Candidates(digits, s.homeCountryCode))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, tenantdomain.ErrNumberTaken
	}

	now := s.clock.Now()
	number := &tenantdomain.PhoneNumber{
		ID:             s.genID.Generate(),
		OrganizationID: req.OrganizationID,
		Number:         digits,
		Label:          req.Label,
		TollFree:       req.TollFree,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, number); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, tenantdomain.ErrNumberTaken
		}
		return nil, err
	}
	return number, nil
}
