package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"gorm.io/gorm"
)

const endpointColumns = `id, organization_id, name, url, events, secret, enabled, created_at, updated_at`

type repo struct{}

func Provide() webhookdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, endpoint *webhookdomain.Endpoint) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_endpoints (`+endpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		endpoint.ID,
		endpoint.OrganizationID,
		endpoint.Name,
		endpoint.URL,
		endpoint.Events,
		endpoint.Secret,
		endpoint.Enabled,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*webhookdomain.Endpoint, error) {
	var endpoint webhookdomain.Endpoint
	err := db.WithContext(ctx).Raw(
		`SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE organization_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&endpoint).Error
	if err != nil {
		return nil, err
	}
	if endpoint.ID == 0 {
		return nil, nil
	}
	return &endpoint, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]webhookdomain.Endpoint, error) {
	var endpoints []webhookdomain.Endpoint
	err := db.WithContext(ctx).Raw(
		`SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE organization_id = ?
		ORDER BY created_at DESC, id DESC`,
		orgID,
	).Scan(&endpoints).Error
	return endpoints, err
}

func (r *repo) ListEnabled(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]webhookdomain.Endpoint, error) {
	var endpoints []webhookdomain.Endpoint
	err := db.WithContext(ctx).Raw(
		`SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE organization_id = ? AND enabled = ?
		ORDER BY id ASC`,
		orgID,
		true,
	).Scan(&endpoints).Error
	return endpoints, err
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, endpoint *webhookdomain.Endpoint) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_endpoints
		SET name = ?, url = ?, events = ?, enabled = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?`,
		endpoint.Name,
		endpoint.URL,
		endpoint.Events,
		endpoint.Enabled,
		endpoint.UpdatedAt,
		endpoint.OrganizationID,
		endpoint.ID,
	).Error
}

// UpdateSecret replaces the secret in a single statement so readers observe either
// the old or the new value.
func (r *repo) UpdateSecret(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, secret string, updatedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE webhook_endpoints
		SET secret = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?`,
		secret,
		updatedAt,
		orgID,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM webhook_endpoints WHERE organization_id = ? AND id = ?`,
		orgID,
		id,
	).Error
}

func (r *repo) InsertLog(ctx context.Context, db *gorm.DB, log *webhookdomain.DeliveryLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_delivery_logs (
			id, organization_id, webhook_endpoint_id, event, status, status_code,
			request_body, response_body, error, duration_ms, retry_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.OrganizationID,
		log.WebhookEndpointID,
		log.Event,
		log.Status,
		log.StatusCode,
		log.RequestBody,
		log.ResponseBody,
		log.Error,
		log.DurationMs,
		log.RetryCount,
		log.CreatedAt,
	).Error
}

func (r *repo) ListLogs(ctx context.Context, db *gorm.DB, orgID, endpointID snowflake.ID, limit int) ([]webhookdomain.DeliveryLog, error) {
	var logs []webhookdomain.DeliveryLog
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, webhook_endpoint_id, event, status, status_code,
			request_body, response_body, error, duration_ms, retry_count, created_at
		FROM webhook_delivery_logs
		WHERE organization_id = ? AND webhook_endpoint_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		orgID,
		endpointID,
		limit,
	).Scan(&logs).Error
	return logs, err
}

func (r *repo) DeleteLogs(ctx context.Context, db *gorm.DB, orgID, endpointID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM webhook_delivery_logs WHERE organization_id = ? AND webhook_endpoint_id = ?`,
		orgID,
		endpointID,
	).Error
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, endpointID snowflake.ID, window int) (webhookdomain.DeliveryStats, error) {
	var stats webhookdomain.DeliveryStats
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS successes
		FROM (
			SELECT status
			FROM webhook_delivery_logs
			WHERE webhook_endpoint_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) recent`,
		webhookdomain.DeliveryStatusSuccess,
		endpointID,
		window,
	).Scan(&stats).Error
	return stats, err
}

func (r *repo) PruneLogs(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	// mysql rejects LIMIT inside an IN subquery but allows it on DELETE
	if db.Dialector.Name() == "mysql" {
		result := db.WithContext(ctx).Exec(
			`DELETE FROM webhook_delivery_logs
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?`,
			cutoff,
			limit,
		)
		return result.RowsAffected, result.Error
	}

	result := db.WithContext(ctx).Exec(
		`DELETE FROM webhook_delivery_logs
		WHERE id IN (
			SELECT id FROM webhook_delivery_logs
			WHERE created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)`,
		cutoff,
		limit,
	)
	return result.RowsAffected, result.Error
}
