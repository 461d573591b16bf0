package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, organization_id, plan_id, status, current_period_start, current_period_end,
			cancel_at_period_end, canceled_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrganizationID,
		subscription.PlanID,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindCurrent(ctx context.Context, db *gorm.DB, orgID snowflake.ID, statuses []subscriptiondomain.SubscriptionStatus) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, plan_id, status, current_period_start, current_period_end,
			cancel_at_period_end, canceled_at, created_at, updated_at
		FROM subscriptions
		WHERE organization_id = ? AND status IN ?
		ORDER BY current_period_start DESC, id DESC
		LIMIT 1`,
		orgID,
		statuses,
	).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *subscriptiondomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, organization_id, subscription_id, status, amount_paid, period_start, period_end, paid_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrganizationID,
		invoice.SubscriptionID,
		invoice.Status,
		invoice.AmountPaid,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.PaidAt,
		invoice.CreatedAt,
	).Error
}

func (r *repo) ListPaidInvoices(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]subscriptiondomain.Invoice, error) {
	var invoices []subscriptiondomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, organization_id, subscription_id, status, amount_paid, period_start, period_end, paid_at, created_at
		FROM invoices
		WHERE organization_id = ? AND status = ? AND period_start >= ? AND period_start < ?
		ORDER BY period_start ASC`,
		orgID,
		subscriptiondomain.InvoiceStatusPaid,
		from,
		to,
	).Scan(&invoices).Error
	return invoices, err
}
