// Package domain defines the canonical telephony events produced from provider payloads.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventKind string

const (
	KindCallStarted       EventKind = "call.started"
	KindCallEnded         EventKind = "call.ended"
	KindSmsReceived       EventKind = "sms.received"
	KindSmsSent           EventKind = "sms.sent"
	KindVoicemailReceived EventKind = "voicemail.received"
	KindAiSessionEnded    EventKind = "ai_session.ended"

	// KindTestPing is only emitted by endpoint tests and cannot be subscribed to.
	KindTestPing EventKind = "test.ping"
)

// SubscribableKinds lists every kind a webhook endpoint may subscribe to.
var SubscribableKinds = []EventKind{
	KindCallStarted,
	KindCallEnded,
	KindSmsReceived,
	KindSmsSent,
	KindVoicemailReceived,
	KindAiSessionEnded,
}

func (k EventKind) Subscribable() bool {
	for _, kind := range SubscribableKinds {
		if kind == k {
			return true
		}
	}
	return false
}

func (k EventKind) String() string { return string(k) }

// CanonicalEvent is the provider-agnostic form of a telephony occurrence. It is never stored.
type CanonicalEvent struct {
	Kind            EventKind
	TenantID        snowflake.ID
	ProviderEventID string
	OccurredAt      time.Time

	// TenantAddress is the number owned by the tenant, RemoteAddress the other party.
	TenantAddress string
	RemoteAddress string

	// Quantity is the billable amount: minutes for calls and AI sessions, segments for SMS.
	Quantity        int64
	DurationSeconds int64
	RecordingURL    string

	Attributes map[string]any
}

var (
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrEventIgnored     = errors.New("event_ignored")
)
