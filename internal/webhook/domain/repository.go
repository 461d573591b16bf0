package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, endpoint *Endpoint) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Endpoint, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Endpoint, error)
	ListEnabled(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Endpoint, error)
	Update(ctx context.Context, db *gorm.DB, endpoint *Endpoint) error
	UpdateSecret(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, secret string, updatedAt time.Time) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error

	InsertLog(ctx context.Context, db *gorm.DB, log *DeliveryLog) error
	ListLogs(ctx context.Context, db *gorm.DB, orgID, endpointID snowflake.ID, limit int) ([]DeliveryLog, error)
	DeleteLogs(ctx context.Context, db *gorm.DB, orgID, endpointID snowflake.ID) error
	Stats(ctx context.Context, db *gorm.DB, endpointID snowflake.ID, window int) (DeliveryStats, error)
	// PruneLogs deletes up to limit log rows created before cutoff, oldest first.
	PruneLogs(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}
