package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	"github.com/smallbiznis/voxbill/internal/testutil"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/repository"
	"github.com/smallbiznis/voxbill/internal/webhook/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_0123456789abcdef"

func newTestDispatcher(t *testing.T, timeout time.Duration) (*Dispatcher, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t, &webhookdomain.DeliveryLog{})
	d := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: clock.NewFakeClock(time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)),
		Config: config.Config{Webhook: config.WebhookConfig{
			Timeout:   timeout,
			UserAgent: "voxbill-test",
		}},
		Repo: repository.Provide(),
	})
	return d, db
}

func testEndpoint(url string) webhookdomain.Endpoint {
	return webhookdomain.Endpoint{ID: 42, OrganizationID: 7, URL: url, Secret: testSecret, Enabled: true}
}

func loadLogs(t *testing.T, db *gorm.DB) []webhookdomain.DeliveryLog {
	t.Helper()
	var logs []webhookdomain.DeliveryLog
	require.NoError(t, db.Order("created_at ASC, id ASC").Find(&logs).Error)
	return logs
}

func TestDispatchSignsAndLogsSuccess(t *testing.T) {
	type captured struct {
		body      []byte
		signature string
		event     string
		agent     string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			body:      body,
			signature: r.Header.Get(HeaderSignature),
			event:     r.Header.Get(HeaderEvent),
			agent:     r.Header.Get("User-Agent"),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, db := newTestDispatcher(t, time.Second)
	result, err := d.Dispatch(context.Background(), webhookdomain.DeliveryRequest{
		Endpoint: testEndpoint(srv.URL),
		Event:    "call.ended",
		Data:     map[string]any{"duration": 125},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusNoContent, *result.StatusCode)
	assert.GreaterOrEqual(t, result.DurationMs, int64(1))

	req := <-got
	assert.Equal(t, "call.ended", req.event)
	assert.Equal(t, "voxbill-test", req.agent)
	assert.True(t, signing.Verify(testSecret, req.body, req.signature))

	var payload Payload
	require.NoError(t, json.Unmarshal(req.body, &payload))
	assert.Equal(t, "call.ended", payload.Event)
	assert.Equal(t, "2026-05-10T12:00:00Z", payload.Timestamp)

	logs := loadLogs(t, db)
	require.Len(t, logs, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusSuccess, logs[0].Status)
	assert.Equal(t, string(req.body), logs[0].RequestBody)
	assert.Nil(t, logs[0].Error)
	assert.Equal(t, result.LogID, logs[0].ID.String())
}

func TestDispatchNon2xxKeepsTruncatedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 900)))
	}))
	defer srv.Close()

	d, db := newTestDispatcher(t, time.Second)
	result, err := d.Dispatch(context.Background(), webhookdomain.DeliveryRequest{
		Endpoint: testEndpoint(srv.URL),
		Event:    "sms.received",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, http.StatusBadGateway, *result.StatusCode)

	logs := loadLogs(t, db)
	require.Len(t, logs, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusFailed, logs[0].Status)
	require.NotNil(t, logs[0].ResponseBody)
	assert.Len(t, *logs[0].ResponseBody, 500)
	assert.Nil(t, logs[0].Error)
}

func TestDispatchUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d, db := newTestDispatcher(t, time.Second)
	result, err := d.Dispatch(context.Background(), webhookdomain.DeliveryRequest{
		Endpoint:   testEndpoint(url),
		Event:      "test.ping",
		RetryCount: 2,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
	assert.Greater(t, result.DurationMs, int64(0))

	logs := loadLogs(t, db)
	require.Len(t, logs, 1)
	assert.Equal(t, webhookdomain.DeliveryStatusFailed, logs[0].Status)
	assert.Nil(t, logs[0].StatusCode)
	require.NotNil(t, logs[0].Error)
	assert.NotEmpty(t, *logs[0].Error)
	assert.Equal(t, 2, logs[0].RetryCount)
}

func TestDispatchTimeoutIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d, db := newTestDispatcher(t, 50*time.Millisecond)
	result, err := d.Dispatch(context.Background(), webhookdomain.DeliveryRequest{
		Endpoint: testEndpoint(srv.URL),
		Event:    "call.started",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, result.StatusCode)
	assert.GreaterOrEqual(t, result.DurationMs, int64(50))
	assert.Len(t, loadLogs(t, db), 1)
}

func TestDispatchLogsEveryAttempt(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	d, db := newTestDispatcher(t, time.Second)
	for _, code := range []int{200, 500, 201, 404, 200} {
		status.Store(int32(code))
		_, err := d.Dispatch(context.Background(), webhookdomain.DeliveryRequest{Endpoint: testEndpoint(srv.URL), Event: "call.ended"})
		require.NoError(t, err)
	}

	stats, err := repository.Provide().Stats(context.Background(), db, 42, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(3), stats.Successes)
	assert.InDelta(t, 0.6, *stats.SuccessRate(), 1e-9)
}

func TestTruncateCountsCharacters(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "hé", truncate("héllo", 2))
}
