package domain

import (
	"context"
	"errors"
)

// Service is read-only and safe for concurrent use.
type Service interface {
	Summarize(ctx context.Context, req SummaryRequest) (*UsageSummary, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPeriod       = errors.New("invalid_period")
)
