package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	billingservice "github.com/smallbiznis/voxbill/internal/billing/service"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/ingest"
	"github.com/smallbiznis/voxbill/internal/observability"
	obsmetrics "github.com/smallbiznis/voxbill/internal/observability/metrics"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	"github.com/smallbiznis/voxbill/internal/telephony/normalizer"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/voxbill/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/voxbill/internal/tenant/service"
	"github.com/smallbiznis/voxbill/internal/testutil"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	usagerepository "github.com/smallbiznis/voxbill/internal/usage/repository"
	usageservice "github.com/smallbiznis/voxbill/internal/usage/service"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/dispatcher"
	webhookrepository "github.com/smallbiznis/voxbill/internal/webhook/repository"
	webhookservice "github.com/smallbiznis/voxbill/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	orgA = "1001"
	orgB = "2002"
)

type noSubscription struct{}

func (noSubscription) GetCurrent(ctx context.Context, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (noSubscription) ListPaidInvoices(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]subscriptiondomain.Invoice, error) {
	return nil, nil
}

type failingGuard struct{}

func (failingGuard) Admit(ctx context.Context, key string, policy ratelimit.Policy) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

type testServer struct {
	engine *gin.Engine
	clock  *clock.FakeClock
}

func newTestServer(t *testing.T, guard ratelimit.Guard, policies ratelimit.Policies) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t,
		&tenantdomain.PhoneNumber{},
		&usagedomain.UsageRecord{},
		&webhookdomain.Endpoint{},
		&webhookdomain.DeliveryLog{},
	)
	node := testutil.NewNode(t)
	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Environment: config.EnvProduction,
		Telephony:   config.TelephonyConfig{HomeCountryCode: "1"},
		Webhook:     config.WebhookConfig{Timeout: 2 * time.Second, SuccessRateWindow: 100},
	}
	pricing := config.StaticPricing(config.DefaultPricingConfig())

	tenants := tenantservice.New(tenantservice.Params{
		DB: db, Log: log, GenID: node, Config: cfg, Clock: clk, Repo: tenantrepository.Provide(),
	})
	_, err := tenants.Register(context.Background(), tenantdomain.RegisterNumberRequest{OrganizationID: 1001, Number: "+15551234567"})
	require.NoError(t, err)

	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Pricing: pricing,
		Repo: usagerepository.Provide(), SubSvc: noSubscription{},
	})
	billing := billingservice.NewService(billingservice.Params{
		Log: log, Clock: clk, Pricing: pricing, UsageSvc: usage, SubSvc: noSubscription{}, TenantSvc: tenants,
	})

	webhookRepo := webhookrepository.Provide()
	d := dispatcher.New(dispatcher.Params{DB: db, Log: log, GenID: node, Clock: clk, Config: cfg, Repo: webhookRepo})
	webhooks := webhookservice.New(webhookservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Config: cfg, Repo: webhookRepo, Dispatcher: d,
	})

	pipeline := ingest.New(ingest.Params{
		Log:        log,
		Config:     cfg,
		Normalizer: normalizer.New(normalizer.Params{Config: cfg, Log: log, Clock: clk}),
		TenantSvc:  tenants,
		UsageSvc:   usage,
		WebhookSvc: webhooks,
		Dispatcher: d,
	})

	httpMetrics, err := obsmetrics.NewHTTPMetricsWith(prometheus.NewRegistry())
	require.NoError(t, err)
	engine := NewEngine(observability.Config{Environment: config.EnvProduction}, httpMetrics)

	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Pipeline:   pipeline,
		TenantSvc:  tenants,
		UsageSvc:   usage,
		BillingSvc: billing,
		WebhookSvc: webhooks,
		Guard:      guard,
		Policies:   policies,
	})
	return testServer{engine: engine, clock: clk}
}

func defaultPolicies() ratelimit.Policies {
	return ratelimit.Policies{
		Ingest:   ratelimit.Policy{Name: "ingest", Rate: 100, Burst: 100},
		Webhook:  ratelimit.Policy{Name: "webhook", Rate: 100, Burst: 100},
		Mutation: ratelimit.Policy{Name: "mutation", Rate: 100, Burst: 100},
	}
}

func (s testServer) do(t *testing.T, method, path, org string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if org != "" {
		req.Header.Set(HeaderOrg, org)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload["type"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestTelephonyEvent(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())

	rec := s.do(t, http.MethodPost, "/v1/telephony/events", "",
		`{"event_type":"call.ended","data":{"call_id":"CA1","to":"+15551234567","duration":125}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "accepted", body["status"])
	records := body["usage_records"].([]any)
	require.Len(t, records, 1)
	record := records[0].(map[string]any)
	assert.Equal(t, "call_minutes", record["type"])
	assert.EqualValues(t, 3, record["quantity"])

	rec = s.do(t, http.MethodPost, "/v1/telephony/events", "", `{"event_type":"fax.received","data":{}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	rec = s.do(t, http.MethodPost, "/v1/telephony/events", "",
		`{"event_type":"sms.received","data":{"message_id":"SM1","to":"+15550000000"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "dropped", decode(t, rec)["status"])

	rec = s.do(t, http.MethodPost, "/v1/telephony/events", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))
}

func TestTenantRoutesRequireOrganization(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())

	for _, org := range []string{"", "not-a-number", "-5"} {
		rec := s.do(t, http.MethodGet, "/v1/webhooks", org, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, org)
	}
}

func TestWebhookLifecycle(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())

	rec := s.do(t, http.MethodPost, "/v1/webhooks", orgA, map[string]any{
		"name":   "CRM",
		"url":    "http://127.0.0.1:1/hook",
		"events": []string{"call.ended"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode(t, rec)["data"].(map[string]any)
	id := created["id"].(string)
	secret := created["secret"].(string)
	assert.NotEmpty(t, secret)

	rec = s.do(t, http.MethodGet, "/v1/webhooks", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), secret)
	assert.Len(t, decode(t, rec)["data"].([]any), 1)

	rec = s.do(t, http.MethodGet, "/v1/webhooks/"+id, orgB, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "webhook endpoint not found")

	rec = s.do(t, http.MethodPatch, "/v1/webhooks/"+id, orgA, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["data"].(map[string]any)["enabled"])

	rec = s.do(t, http.MethodPost, "/v1/webhooks/"+id+"/test", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["data"].(map[string]any)["success"])

	rec = s.do(t, http.MethodGet, "/v1/webhooks/"+id, orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode(t, rec)["data"].(map[string]any)
	assert.EqualValues(t, 1, detail["delivery_count"])
	assert.EqualValues(t, 0, detail["success_rate"])

	rec = s.do(t, http.MethodDelete, "/v1/webhooks/"+id, orgA, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/webhooks/"+id, orgA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookValidationErrors(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())

	rec := s.do(t, http.MethodPost, "/v1/webhooks", orgA, map[string]any{
		"name":   "CRM",
		"url":    "ftp://example.com",
		"events": []string{"call.ended"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)["error"].(map[string]any)
	fieldErr := body["errors"].([]any)[0].(map[string]any)
	assert.Equal(t, "url", fieldErr["field"])
}

func TestWebhookMutationsAreRateLimited(t *testing.T) {
	policies := defaultPolicies()
	policies.Webhook = ratelimit.Policy{Name: "webhook", Rate: 0.5, Burst: 1}
	s := newTestServer(t, ratelimit.NewMemoryGuard(clock.NewFakeClock(time.Now())), policies)

	payload := map[string]any{"name": "CRM", "url": "https://example.com/hook", "events": []string{"sms.received"}}
	rec := s.do(t, http.MethodPost, "/v1/webhooks", orgA, payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/webhooks", orgA, payload)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", errorType(t, rec))

	// other tenants have their own bucket
	rec = s.do(t, http.MethodPost, "/v1/webhooks", orgB, payload)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// reads are not guarded
	rec = s.do(t, http.MethodGet, "/v1/webhooks", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"].([]any), 1)
}

func TestTenantMutationsAreRateLimited(t *testing.T) {
	policies := defaultPolicies()
	policies.Mutation = ratelimit.Policy{Name: "mutation", Rate: 0.5, Burst: 1}
	s := newTestServer(t, ratelimit.NewMemoryGuard(clock.NewFakeClock(time.Now())), policies)

	rec := s.do(t, http.MethodPost, "/v1/telephony/events", "",
		`{"event_type":"call.ended","data":{"call_id":"CA5","to":"+15551234567","duration":60}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/usage/records", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode(t, rec)["data"].([]any)
	require.Len(t, records, 1)
	id := jsonID(records[0].(map[string]any)["id"])

	rec = s.do(t, http.MethodPost, "/v1/phone-numbers", orgA, map[string]any{"number": "+15550001111"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/phone-numbers", orgA, map[string]any{"number": "+15550002222"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = s.do(t, http.MethodPost, "/v1/usage/records/"+id+"/reverse", orgA, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// denied requests wrote nothing
	rec = s.do(t, http.MethodGet, "/v1/usage/records", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"].([]any), 1)

	rec = s.do(t, http.MethodPost, "/v1/telephony/events", "",
		`{"event_type":"call.ended","data":{"call_id":"CA6","to":"+15550002222","duration":60}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "dropped", decode(t, rec)["status"])
}

func TestGuardFailureReturnsUnavailable(t *testing.T) {
	s := newTestServer(t, failingGuard{}, defaultPolicies())

	rec := s.do(t, http.MethodPost, "/v1/telephony/events", "",
		`{"event_type":"call.ended","data":{"call_id":"CA9","to":"+15551234567","duration":60}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/usage/records", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["data"].([]any))
}

func TestUsageSummaryAndRecords(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())

	rec := s.do(t, http.MethodPost, "/v1/telephony/events", "",
		`{"event_type":"call.ended","data":{"call_id":"CA2","to":"+15551234567","duration":600}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/usage/summary", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "starter", summary["plan"].(map[string]any)["key"])
	usage := summary["current"].(map[string]any)
	assert.EqualValues(t, 10, usage["minutes"].(map[string]any)["used"])

	rec = s.do(t, http.MethodGet, "/v1/usage/summary?period_start=2026-05-01", orgA, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/usage/records?type=call_minutes", orgA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode(t, rec)["data"].([]any)
	require.Len(t, records, 1)
	id := records[0].(map[string]any)["id"]

	rec = s.do(t, http.MethodGet, "/v1/usage/records", orgB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["data"].([]any))

	rec = s.do(t, http.MethodGet, "/v1/usage/records?type=fax", orgA, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/v1/usage/records/" + jsonID(id) + "/reverse"
	rec = s.do(t, http.MethodPost, path, orgB, map[string]any{"reason": "test"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, path, orgA, map[string]any{"reason": "dropped call"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, path, orgA, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterPhoneNumber(t *testing.T) {
	s := newTestServer(t, ratelimit.AllowAll{}, defaultPolicies())

	rec := s.do(t, http.MethodPost, "/v1/phone-numbers", orgB, map[string]any{"number": "+1 (555) 765-4321", "toll_free": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "15557654321", decode(t, rec)["data"].(map[string]any)["number"])

	rec = s.do(t, http.MethodPost, "/v1/phone-numbers", orgA, map[string]any{"number": "+15557654321"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/phone-numbers", orgA, map[string]any{"number": "12"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// jsonID renders a decoded snowflake ID, which serializes as a JSON string.
func jsonID(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}
