package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ProviderEvent is the inbound envelope accepted from telephony providers.
type ProviderEvent struct {
	ID        string            `json:"id,omitempty"`
	EventType string            `json:"event_type"`
	Data      ProviderEventData `json:"data"`
}

type ProviderEventData struct {
	CallID        string     `json:"call_id,omitempty"`
	From          string     `json:"from,omitempty"`
	To            string     `json:"to,omitempty"`
	Direction     string     `json:"direction,omitempty"`
	Duration      FlexNumber `json:"duration,omitempty"`
	Status        string     `json:"status,omitempty"`
	RecordingURL  string     `json:"recording_url,omitempty"`
	StartedAt     string     `json:"started_at,omitempty"`
	EndedAt       string     `json:"ended_at,omitempty"`
	MessageID     string     `json:"message_id,omitempty"`
	Body          string     `json:"body,omitempty"`
	Segments      FlexNumber `json:"segments,omitempty"`
	VoicemailID   string     `json:"voicemail_id,omitempty"`
	CallerNumber  string     `json:"caller_number,omitempty"`
	CallerName    string     `json:"caller_name,omitempty"`
	Transcription string     `json:"transcription,omitempty"`
	AudioURL      string     `json:"audio_url,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
}

// FlexNumber accepts a JSON number or a quoted number.
type FlexNumber struct {
	Value float64
	Set   bool
}

func (f *FlexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = FlexNumber{}
		return nil
	}

	raw := string(b)
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			*f = FlexNumber{}
			return nil
		}
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*f = FlexNumber{Value: v, Set: true}
	return nil
}
