package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/voxbill/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "organization_id"},
				{Name: "provider_event_id"},
				{Name: "type"},
			},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) FindByEvent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, providerEventID string, usageType usagedomain.UsageType) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).
		Where("organization_id = ? AND provider_event_id = ? AND type = ?", orgID, providerEventID, usageType).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter usagedomain.ListFilter) ([]usagedomain.UsageRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := db.WithContext(ctx).Where("organization_id = ?", filter.OrganizationID)
	if strings.TrimSpace(string(filter.Type)) != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("occurred_at < ?", filter.To.UTC())
	}

	var records []usagedomain.UsageRecord
	err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&records).Error
	return records, err
}

func (r *repo) SumByType(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]usagedomain.TypeTotal, error) {
	var totals []usagedomain.TypeTotal
	err := db.WithContext(ctx).Raw(
		`SELECT type, COALESCE(SUM(quantity), 0) AS quantity, COALESCE(SUM(total_price), 0) AS total_price
		FROM usage_records
		WHERE organization_id = ? AND occurred_at >= ? AND occurred_at < ?
		GROUP BY type`,
		orgID,
		from.UTC(),
		to.UTC(),
	).Scan(&totals).Error
	return totals, err
}
