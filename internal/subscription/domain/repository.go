package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindCurrent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, statuses []SubscriptionStatus) (*Subscription, error)
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListPaidInvoices(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]Invoice, error)
}
