// Package domain defines tenant-owned outbound webhook endpoints and their delivery log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Endpoint is a tenant-registered URL. Secret is never serialized; reads expose a
// masked hint instead.
type Endpoint struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID                `gorm:"not null;index" json:"organization_id"`
	Name           string                      `gorm:"type:text;not null" json:"name"`
	URL            string                      `gorm:"type:text;not null" json:"url"`
	Events         datatypes.JSONSlice[string] `gorm:"not null" json:"events"`
	Secret         string                      `gorm:"type:text;not null" json:"-"`
	Enabled        bool                        `gorm:"not null;default:true" json:"enabled"`
	CreatedAt      time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Endpoint) TableName() string { return "webhook_endpoints" }

// Subscribes reports whether the endpoint wants deliveries of kind.
func (e Endpoint) Subscribes(kind string) bool {
	for _, event := range e.Events {
		if event == kind {
			return true
		}
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// DeliveryLog records one delivery attempt. Rows are append-only.
type DeliveryLog struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	OrganizationID    snowflake.ID   `gorm:"not null;index" json:"organization_id"`
	WebhookEndpointID snowflake.ID   `gorm:"not null;index:idx_webhook_delivery_logs_endpoint,priority:1" json:"webhook_endpoint_id"`
	Event             string         `gorm:"type:text;not null" json:"event"`
	Status            DeliveryStatus `gorm:"type:text;not null" json:"status"`
	StatusCode        *int           `json:"status_code,omitempty"`
	RequestBody       string         `gorm:"type:text;not null" json:"request_body"`
	ResponseBody      *string        `gorm:"type:text" json:"response_body,omitempty"`
	Error             *string        `gorm:"type:text" json:"error,omitempty"`
	DurationMs        int64          `gorm:"not null" json:"duration_ms"`
	RetryCount        int            `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_webhook_delivery_logs_endpoint,priority:2" json:"created_at"`
}

func (DeliveryLog) TableName() string { return "webhook_delivery_logs" }

// DeliveryStats counts outcomes over the most recent attempts of an endpoint.
type DeliveryStats struct {
	Total     int64
	Successes int64
}

// SuccessRate is successes/total, or nil before the first attempt.
func (s DeliveryStats) SuccessRate() *float64 {
	if s.Total == 0 {
		return nil
	}
	rate := float64(s.Successes) / float64(s.Total)
	return &rate
}
