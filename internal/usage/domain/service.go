package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RecordRequest struct {
	OrganizationID  snowflake.ID
	Type            UsageType
	Quantity        int64
	Description     string
	ProviderEventID string
	Metadata        map[string]any
}

type RecordResult struct {
	Record *UsageRecord `json:"record,omitempty"`
	// Skipped is set when nothing was billable; it is not an error.
	Skipped bool `json:"skipped"`
	// Duplicate is set when the provider event was already recorded; Record is the original row.
	Duplicate bool `json:"duplicate"`
}

type ReverseRequest struct {
	OrganizationID snowflake.ID
	RecordID       snowflake.ID
	Reason         string
}

type ListUsageRequest struct {
	Type  string     `form:"type"`
	From  *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To    *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit int        `form:"limit"`
}

type ListUsageResponse struct {
	UsageRecords []UsageRecord `json:"usage_records"`
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (RecordResult, error)
	Reverse(ctx context.Context, req ReverseRequest) (*UsageRecord, error)
	List(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
	SumByType(ctx context.Context, orgID snowflake.ID, from, to time.Time) (map[UsageType]TypeTotal, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidType         = errors.New("invalid_usage_type")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrNotFound            = errors.New("usage_record_not_found")
	ErrAlreadyReversed     = errors.New("usage_record_already_reversed")
	ErrNotReversible       = errors.New("usage_record_not_reversible")
)
