package normalizer

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	telephonydomain "github.com/smallbiznis/voxbill/internal/telephony/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/signing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// providerKinds maps provider event type strings onto canonical kinds.
var providerKinds = map[string]telephonydomain.EventKind{
	"call.started":       telephonydomain.KindCallStarted,
	"call.initiated":     telephonydomain.KindCallStarted,
	"call.ended":         telephonydomain.KindCallEnded,
	"call.completed":     telephonydomain.KindCallEnded,
	"sms.received":       telephonydomain.KindSmsReceived,
	"message.received":   telephonydomain.KindSmsReceived,
	"sms.sent":           telephonydomain.KindSmsSent,
	"message.sent":       telephonydomain.KindSmsSent,
	"voicemail.received": telephonydomain.KindVoicemailReceived,
	"voicemail.created":  telephonydomain.KindVoicemailReceived,
	"ai_session.ended":   telephonydomain.KindAiSessionEnded,
	"ai.session.ended":   telephonydomain.KindAiSessionEnded,
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
}

type Normalizer struct {
	log           *zap.Logger
	clock         clock.Clock
	signingSecret string
	development   bool
}

func New(p Params) *Normalizer {
	return &Normalizer{
		log:           p.Log.Named("telephony.normalizer"),
		clock:         p.Clock,
		signingSecret: p.Config.Telephony.SigningSecret,
		development:   p.Config.IsDevelopment(),
	}
}

// Normalize authenticates payload and converts it into a canonical event. TenantID is
// left for the caller to resolve.
func (n *Normalizer) Normalize(ctx context.Context, payload []byte, signature string) (*telephonydomain.CanonicalEvent, error) {
	if err := n.verify(payload, signature); err != nil {
		return nil, err
	}

	var event telephonydomain.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, telephonydomain.ErrInvalidPayload
	}
	eventType := strings.ToLower(strings.TrimSpace(event.EventType))
	if eventType == "" {
		return nil, telephonydomain.ErrInvalidPayload
	}

	kind, ok := providerKinds[eventType]
	if !ok {
		n.log.Info("ignoring unsupported provider event", zap.String("event_type", eventType))
		return nil, telephonydomain.ErrEventIgnored
	}

	var attributes map[string]any
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil {
		attributes = envelope.Data
	}
	if attributes == nil {
		attributes = map[string]any{}
	}

	data := event.Data
	canonical := &telephonydomain.CanonicalEvent{
		Kind:            kind,
		ProviderEventID: providerEventID(kind, event),
		Attributes:      attributes,
	}

	switch kind {
	case telephonydomain.KindCallStarted:
		canonical.TenantAddress, canonical.RemoteAddress = addresses(data)
		canonical.OccurredAt = n.parseTime(data.StartedAt)
	case telephonydomain.KindCallEnded:
		canonical.TenantAddress, canonical.RemoteAddress = addresses(data)
		canonical.OccurredAt = n.parseTime(data.EndedAt)
		canonical.DurationSeconds = durationSeconds(data.Duration)
		canonical.Quantity = BillableMinutes(canonical.DurationSeconds)
		canonical.RecordingURL = strings.TrimSpace(data.RecordingURL)
	case telephonydomain.KindSmsReceived, telephonydomain.KindSmsSent:
		canonical.TenantAddress, canonical.RemoteAddress = addresses(data)
		if kind == telephonydomain.KindSmsSent && data.Direction == "" {
			canonical.TenantAddress, canonical.RemoteAddress = data.From, data.To
		}
		canonical.OccurredAt = n.clock.Now()
		canonical.Quantity = segments(data.Segments)
	case telephonydomain.KindVoicemailReceived:
		canonical.TenantAddress = data.To
		canonical.RemoteAddress = firstNonEmpty(data.CallerNumber, data.From)
		canonical.OccurredAt = n.clock.Now()
	case telephonydomain.KindAiSessionEnded:
		canonical.TenantAddress, canonical.RemoteAddress = addresses(data)
		if canonical.TenantAddress == "" {
			canonical.TenantAddress = data.From
		}
		canonical.OccurredAt = n.parseTime(data.EndedAt)
		canonical.DurationSeconds = durationSeconds(data.Duration)
		canonical.Quantity = BillableMinutes(canonical.DurationSeconds)
	}

	return canonical, nil
}

func (n *Normalizer) verify(payload []byte, signature string) error {
	if n.signingSecret == "" {
		return nil
	}
	if strings.TrimSpace(signature) == "" {
		// some provider configurations omit the header; accept and flag
		if n.development {
			n.log.Debug("provider event without signature accepted")
		} else {
			n.log.Warn("provider event without signature accepted")
		}
		return nil
	}
	if !signing.Verify(n.signingSecret, payload, signature) {
		return telephonydomain.ErrInvalidSignature
	}
	return nil
}

func (n *Normalizer) parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
			return t.UTC()
		}
	}
	return n.clock.Now()
}

// BillableMinutes rounds seconds up to whole minutes.
func BillableMinutes(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

func durationSeconds(d telephonydomain.FlexNumber) int64 {
	if !d.Set || d.Value <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Value))
}

func segments(s telephonydomain.FlexNumber) int64 {
	if !s.Set || s.Value < 1 {
		return 1
	}
	return int64(math.Ceil(s.Value))
}

// addresses returns the tenant-owned and remote numbers according to call direction.
func addresses(data telephonydomain.ProviderEventData) (string, string) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(data.Direction)), "outbound") {
		return data.From, data.To
	}
	return data.To, data.From
}

func providerEventID(kind telephonydomain.EventKind, event telephonydomain.ProviderEvent) string {
	data := event.Data
	var id string
	switch kind {
	case telephonydomain.KindCallStarted, telephonydomain.KindCallEnded:
		id = data.CallID
	case telephonydomain.KindSmsReceived, telephonydomain.KindSmsSent:
		id = data.MessageID
	case telephonydomain.KindVoicemailReceived:
		id = data.VoicemailID
	case telephonydomain.KindAiSessionEnded:
		id = data.SessionID
	}
	return strings.TrimSpace(firstNonEmpty(id, event.ID))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
