package seed

import (
	"context"
	"testing"
	"time"

	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	"github.com/smallbiznis/voxbill/internal/testutil"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDemoTenantIsIdempotent(t *testing.T) {
	db := testutil.NewDB(t, &subscriptiondomain.Subscription{}, &tenantdomain.PhoneNumber{})
	node := testutil.NewNode(t)
	now := time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)

	require.NoError(t, EnsureDemoTenant(context.Background(), db, node, now, DemoTenant{}))
	require.NoError(t, EnsureDemoTenant(context.Background(), db, node, now, DemoTenant{}))

	var subs []subscriptiondomain.Subscription
	require.NoError(t, db.Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, DefaultOrgID, subs[0].OrganizationID)
	assert.Equal(t, DefaultPlanID, subs[0].PlanID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, subs[0].Status)
	assert.True(t, subs[0].CurrentPeriodStart.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, subs[0].CurrentPeriodEnd.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))

	var numbers []tenantdomain.PhoneNumber
	require.NoError(t, db.Find(&numbers).Error)
	require.Len(t, numbers, 1)
	assert.Equal(t, "15551234567", numbers[0].Number)
	assert.True(t, numbers[0].Active)
}

func TestEnsureDemoTenantRejectsNumberOwnedElsewhere(t *testing.T) {
	db := testutil.NewDB(t, &subscriptiondomain.Subscription{}, &tenantdomain.PhoneNumber{})
	node := testutil.NewNode(t)
	now := time.Date(2026, 5, 20, 9, 30, 0, 0, time.UTC)

	require.NoError(t, EnsureDemoTenant(context.Background(), db, node, now, DemoTenant{OrgID: 1}))
	err := EnsureDemoTenant(context.Background(), db, node, now, DemoTenant{OrgID: 2})
	assert.ErrorIs(t, err, tenantdomain.ErrNumberTaken)
}

func TestEnsureDemoTenantRequiresHandles(t *testing.T) {
	assert.Error(t, EnsureDemoTenant(context.Background(), nil, nil, time.Now(), DemoTenant{}))
}
