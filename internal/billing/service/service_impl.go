package service

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/voxbill/internal/billing/domain"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const historyMonths = 6

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Pricing   config.PricingSource
	UsageSvc  usagedomain.Service
	SubSvc    subscriptiondomain.Service
	TenantSvc tenantdomain.Service
}

type Service struct {
	log *zap.Logger

	clock     clock.Clock
	pricing   config.PricingSource
	usageSvc  usagedomain.Service
	subSvc    subscriptiondomain.Service
	tenantSvc tenantdomain.Service
}

func NewService(p Params) billingdomain.Service {
	return &Service{
		log: p.Log.Named("billing.aggregator"),

		clock:     p.Clock,
		pricing:   p.Pricing,
		usageSvc:  p.UsageSvc,
		subSvc:    p.SubSvc,
		tenantSvc: p.TenantSvc,
	}
}

func (s *Service) Summarize(ctx context.Context, req billingdomain.SummaryRequest) (*billingdomain.UsageSummary, error) {
	orgID := req.OrganizationID
	if orgID == 0 {
		return nil, billingdomain.ErrInvalidOrganization
	}
	if (req.PeriodStart == nil) != (req.PeriodEnd == nil) {
		return nil, billingdomain.ErrInvalidPeriod
	}

	now := s.clock.Now()
	pricing := s.pricing.Get()

	sub, err := s.subSvc.GetCurrent(ctx, orgID)
	if err != nil {
		// the summary degrades to plan defaults rather than failing the dashboard
		s.log.Warn("subscription unavailable, using default plan",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		sub = nil
	}

	planKey := pricing.DefaultPlan
	if sub != nil {
		planKey = sub.PlanID
	}
	plan := pricing.PlanOrDefault(planKey)

	start, end := currentMonth(now)
	if sub != nil {
		start, end = sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC()
	}
	if req.PeriodStart != nil {
		start, end = req.PeriodStart.UTC(), req.PeriodEnd.UTC()
		if !start.Before(end) {
			return nil, billingdomain.ErrInvalidPeriod
		}
	}

	var (
		totals  map[usagedomain.UsageType]usagedomain.TypeTotal
		numbers tenantdomain.NumberCounts
		history []billingdomain.HistoryEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = s.usageSvc.SumByType(gctx, orgID, start, end)
		return err
	})
	g.Go(func() error {
		var err error
		numbers, err = s.tenantSvc.CountActive(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.history(gctx, orgID, start, plan)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("failed to aggregate usage", zap.String("org_id", orgID.String()), zap.Error(err))
		return nil, err
	}

	used := func(types ...usagedomain.UsageType) int64 {
		var sum int64
		for _, t := range types {
			sum += totals[t].Quantity
		}
		return sum
	}

	current := billingdomain.CurrentUsage{
		Minutes: billingdomain.NewEntitlement(
			used(usagedomain.UsageTypeCallMinutes),
			plan.IncludedMinutes,
			pricing.OverageRate(string(usagedomain.UsageTypeCallMinutes)),
		),
		SMS: billingdomain.NewEntitlement(
			used(usagedomain.UsageTypeSMSInbound, usagedomain.UsageTypeSMSOutbound),
			plan.IncludedSMS,
			pricing.OverageRate(string(usagedomain.UsageTypeSMSOutbound)),
		),
		PhoneNumbers: billingdomain.NewEntitlement(
			numbers.Total,
			plan.IncludedPhoneNumbers,
			pricing.AdditionalPhoneNumberPrice,
		),
		AIMinutes: billingdomain.NewEntitlement(
			used(usagedomain.UsageTypeAIMinutes),
			plan.IncludedAIMinutes,
			pricing.OverageRate(string(usagedomain.UsageTypeAIMinutes)),
		),
		InternationalMinutes: billingdomain.NewEntitlement(
			used(usagedomain.UsageTypeInternationalMinutes),
			plan.IncludedInternationalMinutes,
			pricing.OverageRate(string(usagedomain.UsageTypeInternationalMinutes)),
		),
	}

	recording := billingdomain.NewEntitlement(
		used(usagedomain.UsageTypeCallRecording),
		plan.IncludedRecordingMinutes,
		pricing.StorageOveragePrice,
	)

	charges := billingdomain.Charges{
		BasePlan:             plan.MonthlyFee,
		OverageMinutes:       current.Minutes.Charge(),
		OverageSMS:           current.SMS.Charge(),
		OverageAI:            current.AIMinutes.Charge(),
		OverageInternational: current.InternationalMinutes.Charge(),
		AdditionalNumbers:    current.PhoneNumbers.Charge(),
		TollFreeNumbers:      numbers.TollFree * pricing.TollFreeNumberPrice,
		StorageOverage:       recording.Charge(),
		Taxes:                taxes(plan.MonthlyFee, pricing.TaxRate),
	}
	charges.Total = charges.BasePlan +
		charges.OverageMinutes +
		charges.OverageSMS +
		charges.OverageAI +
		charges.OverageInternational +
		charges.AdditionalNumbers +
		charges.TollFreeNumbers +
		charges.StorageOverage +
		charges.Taxes

	return &billingdomain.UsageSummary{
		BillingPeriod: billingdomain.BillingPeriod{
			Start:         start,
			End:           end,
			DaysRemaining: daysRemaining(now, end),
		},
		Plan: billingdomain.Plan{
			Key:                  plan.Key,
			Name:                 plan.Name,
			MonthlyFee:           plan.MonthlyFee,
			IncludedMinutes:      plan.IncludedMinutes,
			IncludedSMS:          plan.IncludedSMS,
			IncludedPhoneNumbers: plan.IncludedPhoneNumbers,
			IncludedAIMinutes:    plan.IncludedAIMinutes,
		},
		Current: current,
		Charges: charges,
		History: history,
	}, nil
}

// history re-aggregates the calendar months before the period, oldest first.
// A paid invoice for the month wins over the plan list price.
func (s *Service) history(ctx context.Context, orgID snowflake.ID, periodStart time.Time, plan config.PlanConfig) ([]billingdomain.HistoryEntry, error) {
	anchor, _ := currentMonth(periodStart)
	entries := make([]billingdomain.HistoryEntry, historyMonths)

	g, gctx := errgroup.WithContext(ctx)
	for i := range historyMonths {
		monthStart := anchor.AddDate(0, i-historyMonths, 0)
		monthEnd := monthStart.AddDate(0, 1, 0)
		g.Go(func() error {
			totals, err := s.usageSvc.SumByType(gctx, orgID, monthStart, monthEnd)
			if err != nil {
				return err
			}
			invoices, err := s.subSvc.ListPaidInvoices(gctx, orgID, monthStart, monthEnd)
			if err != nil {
				return err
			}

			entry := billingdomain.HistoryEntry{
				Month:   monthStart.Format("2006-01"),
				Minutes: totals[usagedomain.UsageTypeCallMinutes].Quantity,
				SMS:     totals[usagedomain.UsageTypeSMSInbound].Quantity + totals[usagedomain.UsageTypeSMSOutbound].Quantity,
				Total:   plan.MonthlyFee,
				Source:  billingdomain.HistorySourcePlan,
			}
			if len(invoices) > 0 {
				var paid int64
				for _, inv := range invoices {
					paid += inv.AmountPaid
				}
				entry.Total = paid
				entry.Source = billingdomain.HistorySourceInvoice
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func currentMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func daysRemaining(now, end time.Time) int {
	if !now.Before(end) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

func taxes(monthlyFee int64, rate float64) int64 {
	return int64(math.Round(float64(monthlyFee) * rate))
}
