package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// GetCurrent returns the organization's current subscription, or nil when it has none.
	GetCurrent(ctx context.Context, orgID snowflake.ID) (*Subscription, error)
	// ListPaidInvoices returns paid invoices whose period starts within [from, to).
	ListPaidInvoices(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]Invoice, error)
}

var ErrInvalidOrganization = errors.New("invalid_organization")
