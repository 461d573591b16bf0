package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled,omitempty"`
}

type UpdateRequest struct {
	Name             *string   `json:"name,omitempty"`
	URL              *string   `json:"url,omitempty"`
	Events           *[]string `json:"events,omitempty"`
	Enabled          *bool     `json:"enabled,omitempty"`
	RegenerateSecret bool      `json:"regenerate_secret"`
}

type EndpointResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Events     []string  `json:"events"`
	Enabled    bool      `json:"enabled"`
	HasSecret  bool      `json:"has_secret"`
	SecretHint string    `json:"secret_hint,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SecretResponse carries the plaintext secret. It is only produced by create and
// by a rotation.
type SecretResponse struct {
	EndpointResponse
	Secret string `json:"secret,omitempty"`
}

type DetailResponse struct {
	EndpointResponse
	DeliveryLogs  []DeliveryLog `json:"delivery_logs"`
	DeliveryCount int64         `json:"delivery_count"`
	SuccessRate   *float64      `json:"success_rate"`
}

// Service manages endpoints of the organization carried by the context.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	List(ctx context.Context) ([]EndpointResponse, error)
	Get(ctx context.Context, id string) (*DetailResponse, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*SecretResponse, error)
	RotateSecret(ctx context.Context, id string) (*SecretResponse, error)
	Delete(ctx context.Context, id string) error
	Test(ctx context.Context, id string) (*DeliveryResult, error)

	// ListForEvent returns enabled endpoints of orgID subscribed to kind.
	ListForEvent(ctx context.Context, orgID snowflake.ID, kind string) ([]Endpoint, error)
}

type DeliveryRequest struct {
	Endpoint   Endpoint
	Event      string
	Data       any
	RetryCount int
}

type DeliveryResult struct {
	Success    bool   `json:"success"`
	StatusCode *int   `json:"status_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	LogID      string `json:"log_id"`
	RetryCount int    `json:"retry_count"`
}

// Dispatcher delivers one notification. Endpoint failures are reported in the
// result; an error means the attempt could not be accounted for.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DeliveryRequest) (*DeliveryResult, error)
}

var (
	ErrNotFound            = errors.New("webhook_endpoint_not_found")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidURL          = errors.New("invalid_url")
	ErrInvalidEvents       = errors.New("invalid_events")
	ErrInvalidOrganization = errors.New("invalid_organization")
)
