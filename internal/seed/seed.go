// Package seed bootstraps a demo tenant for local development.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"gorm.io/gorm"
)

const (
	DefaultOrgID  snowflake.ID = 1001
	DefaultPlanID              = "starter"
	DefaultNumber              = "+15551234567"
	defaultLabel               = "Demo line"
)

// DemoTenant names the organization and resources to seed.
type DemoTenant struct {
	OrgID           snowflake.ID
	PlanID          string
	Number          string
	HomeCountryCode string
}

func (d DemoTenant) withDefaults() DemoTenant {
	if d.OrgID == 0 {
		d.OrgID = DefaultOrgID
	}
	if strings.TrimSpace(d.PlanID) == "" {
		d.PlanID = DefaultPlanID
	}
	if strings.TrimSpace(d.Number) == "" {
		d.Number = DefaultNumber
	}
	return d
}

// EnsureDemoTenant seeds an active subscription and one phone number for the
// organization. Running it again leaves existing rows untouched.
func EnsureDemoTenant(ctx context.Context, db *gorm.DB, node *snowflake.Node, now time.Time, demo DemoTenant) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	demo = demo.withDefaults()
	now = now.UTC()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureSubscriptionTx(ctx, tx, node, now, demo); err != nil {
			return err
		}
		return ensurePhoneNumberTx(ctx, tx, node, now, demo)
	})
}

func ensureSubscriptionTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time, demo DemoTenant) error {
	var sub subscriptiondomain.Subscription
	err := tx.WithContext(ctx).
		Where("organization_id = ?", demo.OrgID).
		First(&sub).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	sub = subscriptiondomain.Subscription{
		ID:                 node.Generate(),
		OrganizationID:     demo.OrgID,
		PlanID:             demo.PlanID,
		Status:             subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodStart.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return tx.WithContext(ctx).Create(&sub).Error
}

func ensurePhoneNumberTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time, demo DemoTenant) error {
	homeCountryCode := tenantdomain.NormalizeDigits(demo.HomeCountryCode)
	digits := tenantdomain.Canonical(demo.Number, homeCountryCode)
	if digits == "" {
		return tenantdomain.ErrInvalidNumber
	}

	var number tenantdomain.PhoneNumber
	err := tx.WithContext(ctx).
		Where("number IN ?", tenantdomain.Candidates(digits, homeCountryCode)).
		First(&number).Error
	if err == nil {
		if number.OrganizationID != demo.OrgID {
			return tenantdomain.ErrNumberTaken
		}
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	number = tenantdomain.PhoneNumber{
		ID:             node.Generate(),
		OrganizationID: demo.OrgID,
		Number:         digits,
		Label:          defaultLabel,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return tx.WithContext(ctx).Create(&number).Error
}
