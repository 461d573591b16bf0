package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Resolve maps a provider-supplied address to its owning tenant.
	Resolve(ctx context.Context, address string) (TenantContext, error)
	CountActive(ctx context.Context, orgID snowflake.ID) (NumberCounts, error)
	Register(ctx context.Context, req RegisterNumberRequest) (*PhoneNumber, error)
}

var (
	ErrNotFound            = errors.New("tenant_not_found")
	ErrInvalidNumber       = errors.New("invalid_phone_number")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNumberTaken         = errors.New("phone_number_taken")
)
