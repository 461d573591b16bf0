package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, number *PhoneNumber) error
	FindActiveByNumbers(ctx context.Context, db *gorm.DB, numbers []string) (*PhoneNumber, error)
	FindByNumbers(ctx context.Context, db *gorm.DB, numbers []string) (*PhoneNumber, error)
	CountActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (NumberCounts, error)
}
