// Package dispatcher signs and POSTs webhook notifications and accounts for every attempt.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	obstracing "github.com/smallbiznis/voxbill/internal/observability/tracing"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/signing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"

	maxResponseChars = 500
	maxResponseBytes = 4 * maxResponseChars
	defaultTimeout   = 5 * time.Second
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       webhookdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	repo       webhookdomain.Repository
	obsMetrics *obsmetrics.Metrics

	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// Payload is the JSON body of every delivery.
type Payload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func New(p Params) *Dispatcher {
	timeout := p.Config.Webhook.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		db:  p.DB,
		log: p.Log.Named("webhook.dispatcher"),

		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,

		client:    obstracing.NewClient(&http.Client{Timeout: timeout}),
		timeout:   timeout,
		userAgent: p.Config.Webhook.UserAgent,
	}
}

// Dispatch performs exactly one POST and writes exactly one delivery log row.
func (d *Dispatcher) Dispatch(ctx context.Context, req webhookdomain.DeliveryRequest) (*webhookdomain.DeliveryResult, error) {
	endpoint := req.Endpoint
	body, err := json.Marshal(Payload{
		Event:     req.Event,
		Timestamp: d.clock.Now().Format(time.RFC3339),
		Data:      req.Data,
	})
	if err != nil {
		return nil, err
	}

	entry := &webhookdomain.DeliveryLog{
		ID:                d.genID.Generate(),
		OrganizationID:    endpoint.OrganizationID,
		WebhookEndpointID: endpoint.ID,
		Event:             req.Event,
		RequestBody:       string(body),
		RetryCount:        req.RetryCount,
	}

	start := time.Now()
	statusCode, responseBody, sendErr := d.send(ctx, endpoint, req.Event, body)
	entry.DurationMs = max(time.Since(start).Milliseconds(), 1)
	entry.CreatedAt = d.clock.Now()

	switch {
	case sendErr != nil:
		msg := sendErr.Error()
		entry.Status = webhookdomain.DeliveryStatusFailed
		entry.Error = &msg
	default:
		entry.StatusCode = &statusCode
		entry.ResponseBody = &responseBody
		entry.Status = webhookdomain.DeliveryStatusFailed
		if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
			entry.Status = webhookdomain.DeliveryStatusSuccess
		}
	}

	// the log must survive a caller that gave up waiting
	if err := d.repo.InsertLog(context.WithoutCancel(ctx), d.db, entry); err != nil {
		d.log.Error("failed to write delivery log",
			zap.String("org_id", endpoint.OrganizationID.String()),
			zap.String("endpoint_id", endpoint.ID.String()),
			zap.String("event", req.Event),
			zap.Error(err),
		)
		return nil, err
	}

	code := 0
	if entry.StatusCode != nil {
		code = *entry.StatusCode
	}
	d.obsMetrics.RecordWebhookDelivery(ctx, req.Event, string(entry.Status), code)

	result := &webhookdomain.DeliveryResult{
		Success:    entry.Status == webhookdomain.DeliveryStatusSuccess,
		StatusCode: entry.StatusCode,
		DurationMs: entry.DurationMs,
		LogID:      entry.ID.String(),
		RetryCount: entry.RetryCount,
	}
	if entry.Error != nil {
		result.Error = *entry.Error
	}

	fields := []zap.Field{
		zap.String("org_id", endpoint.OrganizationID.String()),
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.String("event", req.Event),
		zap.Int("status_code", code),
		zap.Int64("duration_ms", entry.DurationMs),
		zap.Int("retry_count", req.RetryCount),
	}
	if result.Success {
		d.log.Debug("webhook delivered", fields...)
	} else {
		d.log.Info("webhook delivery failed", append(fields, zap.String("error", result.Error))...)
	}
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, endpoint webhookdomain.Endpoint, event string, body []byte) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderSignature, signing.Sign(endpoint.Secret, body))
	httpReq.Header.Set(HeaderEvent, event)
	if d.userAgent != "" {
		httpReq.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, truncate(string(raw), maxResponseChars), nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
