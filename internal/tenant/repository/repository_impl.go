package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, number *tenantdomain.PhoneNumber) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO phone_numbers (id, organization_id, number, label, toll_free, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		number.ID,
		number.OrganizationID,
		number.Number,
		number.Label,
		number.TollFree,
		number.Active,
		number.CreatedAt,
		number.UpdatedAt,
	).Error
}

func (r *repo) FindActiveByNumbers(ctx context.Context, db *gorm.DB, numbers []string) (*tenantdomain.PhoneNumber, error) {
	if len(numbers) == 0 {
		return nil, nil
	}

	var number tenantdomain.PhoneNumber
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, number, label, toll_free, active, created_at, updated_at
		FROM phone_numbers
		WHERE number IN ? AND active = ?
		ORDER BY id ASC
		LIMIT 1`,
		numbers,
		true,
	).Scan(&number).Error
	if err != nil {
		return nil, err
	}
	if number.ID == 0 {
		return nil, nil
	}
	return &number, nil
}

// FindByNumbers matches numbers in any state, so an inactive line still blocks re-registration.
func (r *repo) FindByNumbers(ctx context.Context, db *gorm.DB, numbers []string) (*tenantdomain.PhoneNumber, error) {
	if len(numbers) == 0 {
		return nil, nil
	}

	var number tenantdomain.PhoneNumber
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, number, label, toll_free, active, created_at, updated_at
		FROM phone_numbers
		WHERE number IN ?
		ORDER BY id ASC
		LIMIT 1`,
		numbers,
	).Scan(&number).Error
	if err != nil {
		return nil, err
	}
	if number.ID == 0 {
		return nil, nil
	}
	return &number, nil
}

func (r *repo) CountActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (tenantdomain.NumberCounts, error) {
	var counts tenantdomain.NumberCounts
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN toll_free THEN 1 ELSE 0 END), 0) AS toll_free
		FROM phone_numbers
		WHERE organization_id = ? AND active = ?`,
		orgID,
		true,
	).Scan(&counts).Error
	return counts, err
}
