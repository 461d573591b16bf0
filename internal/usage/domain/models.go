// Package domain contains the append-only usage ledger written by the ingestion pipeline.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type UsageType string

const (
	UsageTypeCallMinutes          UsageType = "call_minutes"
	UsageTypeAIMinutes            UsageType = "ai_minutes"
	UsageTypeSMSOutbound          UsageType = "sms_outbound"
	UsageTypeSMSInbound           UsageType = "sms_inbound"
	UsageTypeInternationalMinutes UsageType = "international_minutes"
	UsageTypeCallRecording        UsageType = "call_recording"
)

var UsageTypes = []UsageType{
	UsageTypeCallMinutes,
	UsageTypeAIMinutes,
	UsageTypeSMSOutbound,
	UsageTypeSMSInbound,
	UsageTypeInternationalMinutes,
	UsageTypeCallRecording,
}

func (t UsageType) Valid() bool {
	for _, v := range UsageTypes {
		if v == t {
			return true
		}
	}
	return false
}

// UsageRecord stores one billable quantity. Rows are never updated; corrections are new
// rows with negative quantity that reference the corrected row through ReversesID.
// OccurredAt places a row in a period; a reversal inherits it from the corrected row.
type UsageRecord struct {
	ID                         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrganizationID             snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_usage_records_event,priority:1" json:"organization_id"`
	SubscriptionID             *snowflake.ID     `json:"subscription_id,omitempty"`
	Type                       UsageType         `gorm:"type:varchar(32);not null;uniqueIndex:ux_usage_records_event,priority:3" json:"type"`
	Quantity                   int64             `gorm:"not null" json:"quantity"`
	UnitPrice                  int64             `gorm:"not null" json:"unit_price"`
	TotalPrice                 int64             `gorm:"not null" json:"total_price"`
	Description                string            `gorm:"type:text" json:"description"`
	ProviderEventID            *string           `gorm:"type:varchar(255);uniqueIndex:ux_usage_records_event,priority:2" json:"provider_event_id,omitempty"`
	ReversesID                 *snowflake.ID     `json:"reverses_id,omitempty"`
	BillingPeriodStart         time.Time         `gorm:"not null" json:"billing_period_start"`
	BillingPeriodEnd           time.Time         `gorm:"not null" json:"billing_period_end"`
	ReportedToBillingProcessor bool              `gorm:"not null;default:false" json:"reported_to_billing_processor"`
	Metadata                   datatypes.JSONMap `json:"metadata,omitempty"`
	OccurredAt                 time.Time         `gorm:"not null;index" json:"occurred_at"`
	CreatedAt                  time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// TypeTotal is the per-type aggregate of a period.
type TypeTotal struct {
	Type       UsageType `json:"type"`
	Quantity   int64     `json:"quantity"`
	TotalPrice int64     `json:"total_price"`
}
