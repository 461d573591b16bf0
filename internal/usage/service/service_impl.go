package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	"github.com/smallbiznis/voxbill/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// defaultPeriod tags usage of organizations that have no subscription yet.
const defaultPeriod = 30 * 24 * time.Hour

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Pricing    config.PricingSource
	Repo       usagedomain.Repository
	SubSvc     subscriptiondomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	pricing    config.PricingSource
	repo       usagedomain.Repository
	subSvc     subscriptiondomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		pricing:    p.Pricing,
		repo:       p.Repo,
		subSvc:     p.SubSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (usagedomain.RecordResult, error) {
	if !req.Type.Valid() {
		return usagedomain.RecordResult{}, usagedomain.ErrInvalidType
	}
	if req.OrganizationID == 0 || req.Quantity <= 0 {
		s.obsMetrics.RecordUsageSkipped(ctx, string(req.Type), "not_billable")
		return usagedomain.RecordResult{Skipped: true}, nil
	}

	eventID := strings.TrimSpace(req.ProviderEventID)
	if eventID != "" {
		existing, err := s.repo.FindByEvent(ctx, s.db, req.OrganizationID, eventID, req.Type)
		if err != nil {
			return usagedomain.RecordResult{}, err
		}
		if existing != nil {
			s.obsMetrics.RecordUsageSkipped(ctx, string(req.Type), "duplicate")
			return usagedomain.RecordResult{Record: existing, Duplicate: true}, nil
		}
	}

	now := s.clock.Now()
	periodStart, periodEnd := now, now.Add(defaultPeriod)
	var subscriptionID *snowflake.ID
	sub, err := s.subSvc.GetCurrent(ctx, req.OrganizationID)
	if err != nil {
		return usagedomain.RecordResult{}, err
	}
	if sub != nil {
		id := sub.ID
		subscriptionID = &id
		periodStart, periodEnd = sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC()
	}

	unitPrice := s.pricing.Get().UnitPrice(string(req.Type))
	record := &usagedomain.UsageRecord{
		ID:                 s.genID.Generate(),
		OrganizationID:     req.OrganizationID,
		SubscriptionID:     subscriptionID,
		Type:               req.Type,
		Quantity:           req.Quantity,
		UnitPrice:          unitPrice,
		TotalPrice:         req.Quantity * unitPrice,
		Description:        req.Description,
		BillingPeriodStart: periodStart,
		BillingPeriodEnd:   periodEnd,
		OccurredAt:         now,
		CreatedAt:          now,
	}
	if eventID != "" {
		record.ProviderEventID = &eventID
	}
	if len(req.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		s.log.Error("failed to write usage record",
			zap.String("org_id", req.OrganizationID.String()),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		return usagedomain.RecordResult{}, err
	}
	if !inserted {
		// lost a race against a concurrent delivery of the same provider event
		existing, err := s.repo.FindByEvent(ctx, s.db, req.OrganizationID, eventID, req.Type)
		if err != nil {
			return usagedomain.RecordResult{}, err
		}
		s.obsMetrics.RecordUsageSkipped(ctx, string(req.Type), "duplicate")
		return usagedomain.RecordResult{Record: existing, Duplicate: true}, nil
	}

	s.obsMetrics.RecordUsage(ctx, string(req.Type), req.Quantity)
	s.log.Debug("usage recorded",
		zap.String("org_id", req.OrganizationID.String()),
		zap.String("type", string(req.Type)),
		zap.Int64("quantity", req.Quantity),
		zap.Int64("total_price", record.TotalPrice),
	)
	return usagedomain.RecordResult{Record: record}, nil
}

func (s *Service) Reverse(ctx context.Context, req usagedomain.ReverseRequest) (*usagedomain.UsageRecord, error) {
	if req.OrganizationID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	original, err := s.repo.FindByID(ctx, s.db, req.OrganizationID, req.RecordID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, usagedomain.ErrNotFound
	}
	if original.ReversesID != nil || original.Quantity <= 0 {
		return nil, usagedomain.ErrNotReversible
	}

	description := "reversal of " + original.ID.String()
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		description += ": " + reason
	}
	key := "reversal:" + original.ID.String()
	originalID := original.ID

	reversal := &usagedomain.UsageRecord{
		ID:                 s.genID.Generate(),
		OrganizationID:     original.OrganizationID,
		SubscriptionID:     original.SubscriptionID,
		Type:               original.Type,
		Quantity:           -original.Quantity,
		UnitPrice:          original.UnitPrice,
		TotalPrice:         -original.TotalPrice,
		Description:        description,
		ProviderEventID:    &key,
		ReversesID:         &originalID,
		BillingPeriodStart: original.BillingPeriodStart,
		BillingPeriodEnd:   original.BillingPeriodEnd,
		OccurredAt:         original.OccurredAt,
		CreatedAt:          s.clock.Now(),
	}

	inserted, err := s.repo.Insert(ctx, s.db, reversal)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, usagedomain.ErrAlreadyReversed
	}

	s.log.Info("usage record reversed",
		zap.String("org_id", original.OrganizationID.String()),
		zap.String("record_id", original.ID.String()),
	)
	return reversal, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidOrganization
	}

	usageType := usagedomain.UsageType(strings.ToLower(strings.TrimSpace(req.Type)))
	if usageType != "" && !usageType.Valid() {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidType
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidPeriod
	}

	records, err := s.repo.List(ctx, s.db, usagedomain.ListFilter{
		OrganizationID: orgID,
		Type:           usageType,
		From:           req.From,
		To:             req.To,
		Limit:          req.Limit,
	})
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}
	if records == nil {
		records = []usagedomain.UsageRecord{}
	}
	return usagedomain.ListUsageResponse{UsageRecords: records}, nil
}

func (s *Service) SumByType(ctx context.Context, orgID snowflake.ID, from, to time.Time) (map[usagedomain.UsageType]usagedomain.TypeTotal, error) {
	if orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}
	if !from.Before(to) {
		return nil, usagedomain.ErrInvalidPeriod
	}

	rows, err := s.repo.SumByType(ctx, s.db, orgID, from, to)
	if err != nil {
		return nil, err
	}
	totals := make(map[usagedomain.UsageType]usagedomain.TypeTotal, len(rows))
	for _, row := range rows {
		totals[row.Type] = row
	}
	return totals, nil
}
