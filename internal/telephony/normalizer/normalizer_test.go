package normalizer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	telephonydomain "github.com/smallbiznis/voxbill/internal/telephony/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var fixedNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newNormalizer(secret, env string, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return New(Params{
		Config: config.Config{Environment: env, Telephony: config.TelephonyConfig{SigningSecret: secret}},
		Log:    log,
		Clock:  clock.NewFakeClock(fixedNow),
	})
}

func TestCallEndedRoundsMinutesUp(t *testing.T) {
	n := newNormalizer("", config.EnvProduction, nil)

	cases := map[int]int64{0: 0, 1: 1, 59: 1, 60: 1, 61: 2, 125: 3, 3600: 60}
	for seconds, want := range cases {
		payload := fmt.Sprintf(`{"event_type":"call.ended","data":{"call_id":"c-%d","to":"+15551234567","duration":%d,"status":"completed"}}`, seconds, seconds)
		event, err := n.Normalize(context.Background(), []byte(payload), "")
		require.NoError(t, err)
		assert.Equal(t, telephonydomain.KindCallEnded, event.Kind)
		assert.Equal(t, want, event.Quantity, "duration %d", seconds)
		assert.Equal(t, int64(seconds), event.DurationSeconds)
		assert.Equal(t, "+15551234567", event.TenantAddress)
	}
}

func TestDurationAcceptsQuotedNumbers(t *testing.T) {
	n := newNormalizer("", config.EnvProduction, nil)

	event, err := n.Normalize(context.Background(), []byte(`{"event_type":"ai_session.ended","data":{"session_id":"s1","to":"+15550001111","duration":"90.5"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, telephonydomain.KindAiSessionEnded, event.Kind)
	assert.Equal(t, int64(2), event.Quantity)
	assert.Equal(t, "s1", event.ProviderEventID)
}

func TestSmsSegmentsDefaultToOne(t *testing.T) {
	n := newNormalizer("", config.EnvProduction, nil)

	event, err := n.Normalize(context.Background(), []byte(`{"event_type":"sms.received","data":{"message_id":"m1","from":"+15550002222","to":"+15551234567","body":"hi"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), event.Quantity)
	assert.Equal(t, "+15551234567", event.TenantAddress)
	assert.Equal(t, "+15550002222", event.RemoteAddress)
	assert.Equal(t, fixedNow, event.OccurredAt)

	event, err = n.Normalize(context.Background(), []byte(`{"event_type":"message.sent","data":{"message_id":"m2","from":"+15551234567","to":"+15550002222","segments":3}}`), "")
	require.NoError(t, err)
	assert.Equal(t, telephonydomain.KindSmsSent, event.Kind)
	assert.Equal(t, int64(3), event.Quantity)
	assert.Equal(t, "+15551234567", event.TenantAddress)
}

func TestOutboundCallUsesFromAsTenantAddress(t *testing.T) {
	n := newNormalizer("", config.EnvProduction, nil)

	event, err := n.Normalize(context.Background(), []byte(`{"event_type":"call.ended","data":{"call_id":"c1","from":"+15551234567","to":"+447700900000","direction":"outbound-api","duration":30,"recording_url":"https://rec.example/1","ended_at":"2026-04-01T09:00:00Z"}}`), "")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", event.TenantAddress)
	assert.Equal(t, "+447700900000", event.RemoteAddress)
	assert.Equal(t, "https://rec.example/1", event.RecordingURL)
	assert.Equal(t, time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), event.OccurredAt)
	assert.Equal(t, "c1", event.Attributes["call_id"])
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := newNormalizer("", config.EnvProduction, zap.New(core))

	_, err := n.Normalize(context.Background(), []byte(`{"event_type":"fax.received","data":{}}`), "")
	assert.ErrorIs(t, err, telephonydomain.ErrEventIgnored)
	assert.Equal(t, 1, logs.FilterMessage("ignoring unsupported provider event").Len())
}

func TestMalformedPayload(t *testing.T) {
	n := newNormalizer("", config.EnvProduction, nil)

	_, err := n.Normalize(context.Background(), []byte(`{not json`), "")
	assert.ErrorIs(t, err, telephonydomain.ErrInvalidPayload)

	_, err = n.Normalize(context.Background(), []byte(`{"data":{}}`), "")
	assert.ErrorIs(t, err, telephonydomain.ErrInvalidPayload)
}

func TestSignatureVerification(t *testing.T) {
	payload := []byte(`{"event_type":"call.started","data":{"call_id":"c9","to":"+15551234567"}}`)
	core, logs := observer.New(zap.WarnLevel)
	n := newNormalizer("provider-secret", config.EnvProduction, zap.New(core))

	event, err := n.Normalize(context.Background(), payload, signing.Sign("provider-secret", payload))
	require.NoError(t, err)
	assert.Equal(t, telephonydomain.KindCallStarted, event.Kind)
	assert.Equal(t, int64(0), event.Quantity)

	_, err = n.Normalize(context.Background(), payload, signing.Sign("other", payload))
	assert.ErrorIs(t, err, telephonydomain.ErrInvalidSignature)

	// a missing header is accepted but flagged outside development
	_, err = n.Normalize(context.Background(), payload, "")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("provider event without signature accepted").Len())
}
