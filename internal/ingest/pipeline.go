// Package ingest turns authenticated provider events into usage records and
// webhook notifications for the owning tenant.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/voxbill/internal/config"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	telephonydomain "github.com/smallbiznis/voxbill/internal/telephony/domain"
	"github.com/smallbiznis/voxbill/internal/telephony/normalizer"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSignatureHeader carries the hex HMAC-SHA256 of the provider event body.
const DefaultSignatureHeader = "X-Telephony-Signature"

const (
	eventLockTTL        = 30 * time.Second
	maxParallelDelivery = 8
)

type Status string

const (
	StatusAccepted Status = "accepted"
	// StatusIgnored is an event kind the platform does not handle.
	StatusIgnored Status = "ignored"
	// StatusDropped is an event for an address no tenant owns.
	StatusDropped Status = "dropped"
	// StatusInFlight is a redelivery of an event that is still being processed.
	StatusInFlight Status = "in_flight"
)

type Result struct {
	Status           Status                    `json:"status"`
	Kind             string                    `json:"kind,omitempty"`
	OrganizationID   string                    `json:"organization_id,omitempty"`
	ProviderEventID  string                    `json:"provider_event_id,omitempty"`
	UsageRecords     []usagedomain.UsageRecord `json:"usage_records"`
	Deliveries       int                       `json:"deliveries"`
	FailedDeliveries int                       `json:"failed_deliveries"`
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Normalizer *normalizer.Normalizer
	TenantSvc  tenantdomain.Service
	UsageSvc   usagedomain.Service
	WebhookSvc webhookdomain.Service
	Dispatcher webhookdomain.Dispatcher
	Locker     ratelimit.Locker    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Pipeline struct {
	log *zap.Logger

	normalizer *normalizer.Normalizer
	tenantSvc  tenantdomain.Service
	usageSvc   usagedomain.Service
	webhookSvc webhookdomain.Service
	dispatcher webhookdomain.Dispatcher
	locker     ratelimit.Locker
	obsMetrics *obsmetrics.Metrics

	homeCountryCode string
}

func New(p Params) *Pipeline {
	return &Pipeline{
		log: p.Log.Named("ingest.pipeline"),

		normalizer: p.Normalizer,
		tenantSvc:  p.TenantSvc,
		usageSvc:   p.UsageSvc,
		webhookSvc: p.WebhookSvc,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,

		homeCountryCode: tenantdomain.NormalizeDigits(p.Config.Telephony.HomeCountryCode),
	}
}

// Process handles one provider event. Usage write failures fail the call; webhook
// delivery failures never do.
func (p *Pipeline) Process(ctx context.Context, payload []byte, signature string) (*Result, error) {
	event, err := p.normalizer.Normalize(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, telephonydomain.ErrEventIgnored) {
			p.obsMetrics.RecordProviderEvent(ctx, "unknown", string(StatusIgnored))
			return &Result{Status: StatusIgnored, UsageRecords: []usagedomain.UsageRecord{}}, nil
		}
		p.obsMetrics.RecordProviderEvent(ctx, "unknown", "rejected")
		return nil, err
	}

	result := &Result{
		Kind:            event.Kind.String(),
		ProviderEventID: event.ProviderEventID,
		UsageRecords:    []usagedomain.UsageRecord{},
	}

	tenant, err := p.tenantSvc.Resolve(ctx, event.TenantAddress)
	if err != nil {
		if errors.Is(err, tenantdomain.ErrNotFound) {
			p.log.Info("dropping event for unknown number",
				zap.String("kind", event.Kind.String()),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			p.obsMetrics.RecordProviderEvent(ctx, event.Kind.String(), string(StatusDropped))
			result.Status = StatusDropped
			return result, nil
		}
		return nil, err
	}
	event.TenantID = tenant.OrganizationID
	result.OrganizationID = tenant.OrganizationID.String()

	release, ok := p.acquire(ctx, event)
	if !ok {
		p.obsMetrics.RecordProviderEvent(ctx, event.Kind.String(), string(StatusInFlight))
		result.Status = StatusInFlight
		return result, nil
	}
	defer release()

	requests := UsageRequests(event, p.homeCountryCode)

	var (
		records []usagedomain.UsageRecord
		summary deliverySummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = p.record(gctx, requests)
		return err
	})
	// deliveries use ctx so a usage failure does not cut them short
	g.Go(func() error {
		summary = p.dispatch(ctx, event)
		return nil
	})
	if err := g.Wait(); err != nil {
		p.log.Error("failed to record usage",
			zap.String("org_id", tenant.OrganizationID.String()),
			zap.String("kind", event.Kind.String()),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.Error(err),
		)
		p.obsMetrics.RecordProviderEvent(ctx, event.Kind.String(), "failed")
		return nil, err
	}

	result.Status = StatusAccepted
	result.UsageRecords = records
	result.Deliveries = summary.attempts
	result.FailedDeliveries = summary.failed
	p.obsMetrics.RecordProviderEvent(ctx, event.Kind.String(), string(StatusAccepted))
	return result, nil
}

func (p *Pipeline) record(ctx context.Context, requests []usagedomain.RecordRequest) ([]usagedomain.UsageRecord, error) {
	records := make([]usagedomain.UsageRecord, 0, len(requests))
	for _, req := range requests {
		recorded, err := p.usageSvc.Record(ctx, req)
		if err != nil {
			return nil, err
		}
		if recorded.Record != nil {
			records = append(records, *recorded.Record)
		}
	}
	return records, nil
}

type deliverySummary struct {
	attempts int
	failed   int
}

// dispatch notifies every enabled endpoint subscribed to the event kind. Failures
// are logged and counted, never returned.
func (p *Pipeline) dispatch(ctx context.Context, event *telephonydomain.CanonicalEvent) deliverySummary {
	endpoints, err := p.webhookSvc.ListForEvent(ctx, event.TenantID, event.Kind.String())
	if err != nil {
		p.log.Warn("failed to list webhook endpoints",
			zap.String("org_id", event.TenantID.String()),
			zap.String("kind", event.Kind.String()),
			zap.Error(err),
		)
		return deliverySummary{}
	}
	if len(endpoints) == 0 {
		return deliverySummary{}
	}

	data := EventData(event)
	results := make([]*webhookdomain.DeliveryResult, len(endpoints))

	var g errgroup.Group
	g.SetLimit(maxParallelDelivery)
	for i, endpoint := range endpoints {
		g.Go(func() error {
			result, err := p.dispatcher.Dispatch(ctx, webhookdomain.DeliveryRequest{
				Endpoint: endpoint,
				Event:    event.Kind.String(),
				Data:     data,
			})
			if err != nil {
				p.log.Error("webhook delivery not accounted",
					zap.String("org_id", event.TenantID.String()),
					zap.String("endpoint_id", endpoint.ID.String()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	summary := deliverySummary{attempts: len(endpoints)}
	for _, result := range results {
		if result == nil || !result.Success {
			summary.failed++
		}
	}
	return summary
}

// acquire serializes concurrent deliveries of the same provider event. Locker
// failures let the event through; usage writes stay idempotent either way.
func (p *Pipeline) acquire(ctx context.Context, event *telephonydomain.CanonicalEvent) (func(), bool) {
	noop := func() {}
	if p.locker == nil || event.ProviderEventID == "" {
		return noop, true
	}

	key := "telephony:event:" + event.TenantID.String() + ":" + event.Kind.String() + ":" + event.ProviderEventID
	token, ok, err := p.locker.TryLock(ctx, key, eventLockTTL)
	if err != nil {
		p.log.Warn("event lock unavailable", zap.String("provider_event_id", event.ProviderEventID), zap.Error(err))
		return noop, true
	}
	if !ok {
		p.log.Info("event already in flight",
			zap.String("org_id", event.TenantID.String()),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return noop, false
	}
	return func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			p.log.Warn("failed to release event lock", zap.String("provider_event_id", event.ProviderEventID), zap.Error(err))
		}
	}, true
}

// UsageRequests derives the billable usage of an event. Kinds without usage return nil.
func UsageRequests(event *telephonydomain.CanonicalEvent, homeCountryCode string) []usagedomain.RecordRequest {
	base := usagedomain.RecordRequest{
		OrganizationID:  event.TenantID,
		Quantity:        event.Quantity,
		ProviderEventID: event.ProviderEventID,
		Metadata:        usageMetadata(event),
	}

	switch event.Kind {
	case telephonydomain.KindCallEnded:
		call := base
		call.Type = usagedomain.UsageTypeCallMinutes
		call.Description = "Call with " + displayAddress(event.RemoteAddress)
		if IsInternational(event.RemoteAddress, homeCountryCode) {
			call.Type = usagedomain.UsageTypeInternationalMinutes
			call.Description = "International call with " + displayAddress(event.RemoteAddress)
		}
		requests := []usagedomain.RecordRequest{call}
		if event.RecordingURL != "" {
			recording := base
			recording.Type = usagedomain.UsageTypeCallRecording
			recording.Description = "Recording of call with " + displayAddress(event.RemoteAddress)
			requests = append(requests, recording)
		}
		return requests
	case telephonydomain.KindSmsReceived:
		base.Type = usagedomain.UsageTypeSMSInbound
		base.Description = "SMS from " + displayAddress(event.RemoteAddress)
		return []usagedomain.RecordRequest{base}
	case telephonydomain.KindSmsSent:
		base.Type = usagedomain.UsageTypeSMSOutbound
		base.Description = "SMS to " + displayAddress(event.RemoteAddress)
		return []usagedomain.RecordRequest{base}
	case telephonydomain.KindAiSessionEnded:
		base.Type = usagedomain.UsageTypeAIMinutes
		base.Description = "AI assistant session"
		return []usagedomain.RecordRequest{base}
	default:
		return nil
	}
}

// IsInternational reports whether a remote party is outside the home country. Only
// numbers in international form (leading "+" or longer than a national number) are
// considered; short codes and bare national numbers are domestic.
func IsInternational(remote, homeCountryCode string) bool {
	if homeCountryCode == "" {
		return false
	}
	trimmed := strings.TrimSpace(remote)
	digits := tenantdomain.NormalizeDigits(trimmed)
	if digits == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, "+") && len(digits) <= nationalNumberLength {
		return false
	}
	return !strings.HasPrefix(digits, homeCountryCode)
}

const nationalNumberLength = 10

func displayAddress(address string) string {
	if strings.TrimSpace(address) == "" {
		return "unknown"
	}
	return strings.TrimSpace(address)
}

func usageMetadata(event *telephonydomain.CanonicalEvent) map[string]any {
	metadata := map[string]any{"event_kind": event.Kind.String()}
	if event.DurationSeconds > 0 {
		metadata["duration_seconds"] = event.DurationSeconds
	}
	if event.RecordingURL != "" {
		metadata["recording_url"] = event.RecordingURL
	}
	return metadata
}

// EventData is the data object of a webhook notification.
func EventData(event *telephonydomain.CanonicalEvent) map[string]any {
	data := map[string]any{
		"organization_id":   event.TenantID.String(),
		"provider_event_id": event.ProviderEventID,
		"occurred_at":       event.OccurredAt.UTC().Format(time.RFC3339),
		"tenant_number":     event.TenantAddress,
		"remote_number":     event.RemoteAddress,
		"attributes":        event.Attributes,
	}
	if event.Quantity > 0 {
		data["quantity"] = event.Quantity
	}
	if event.DurationSeconds > 0 {
		data["duration_seconds"] = event.DurationSeconds
	}
	if event.RecordingURL != "" {
		data["recording_url"] = event.RecordingURL
	}
	return data
}
