package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes record unless its idempotency key already exists; it reports whether a row was written.
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*UsageRecord, error)
	FindByEvent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerEventID string, usageType UsageType) (*UsageRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]UsageRecord, error)
	SumByType(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]TypeTotal, error)
}

type ListFilter struct {
	OrganizationID snowflake.ID
	Type           UsageType
	From           *time.Time
	To             *time.Time
	Limit          int
}
