package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/voxbill/internal/cache"
	"github.com/smallbiznis/voxbill/internal/clock"
	"github.com/smallbiznis/voxbill/internal/config"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"github.com/smallbiznis/voxbill/internal/tenant/repository"
	"github.com/smallbiznis/voxbill/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTenantService(t *testing.T) tenantdomain.Service {
	t.Helper()
	db := testutil.NewDB(t, &tenantdomain.PhoneNumber{})

	cfg := config.Config{Telephony: config.TelephonyConfig{HomeCountryCode: "1", ResolverCacheTTL: time.Minute}}
	return New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  testutil.NewNode(t),
		Config: cfg,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		Repo:   repository.Provide(),
		Cache:  cache.NewResolverCache(),
	})
}

func TestResolveNormalizesProviderFormats(t *testing.T) {
	svc := setupTenantService(t)
	ctx := context.Background()

	number, err := svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 77, Number: "+1 (555) 123-4567"})
	require.NoError(t, err)
	assert.Equal(t, "15551234567", number.Number)

	for _, address := range []string{"+15551234567", "1-555-123-4567", "(555) 123 4567", "5551234567"} {
		tenant, err := svc.Resolve(ctx, address)
		require.NoError(t, err, address)
		assert.EqualValues(t, 77, tenant.OrganizationID, address)
		assert.Equal(t, number.ID, tenant.PhoneNumberID)
	}
}

func TestResolveUnknownNumber(t *testing.T) {
	svc := setupTenantService(t)

	_, err := svc.Resolve(context.Background(), "+44 20 7946 0000")
	assert.ErrorIs(t, err, tenantdomain.ErrNotFound)

	_, err = svc.Resolve(context.Background(), "anonymous")
	assert.ErrorIs(t, err, tenantdomain.ErrNotFound)
}

func TestRegisterRejectsDuplicatesAndCountsActive(t *testing.T) {
	svc := setupTenantService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 5, Number: "+18005550100", TollFree: true})
	require.NoError(t, err)
	_, err = svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 5, Number: "+15550000001"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 6, Number: "18005550100"})
	assert.ErrorIs(t, err, tenantdomain.ErrNumberTaken)

	_, err = svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 6, Number: "12"})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidNumber)

	counts, err := svc.CountActive(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total)
	assert.Equal(t, int64(1), counts.TollFree)
}

func TestRegisterTreatsNumberFormatsAsOneLine(t *testing.T) {
	svc := setupTenantService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 1, Number: "+15551234567"})
	require.NoError(t, err)

	for _, number := range []string{"555-123-4567", "(555) 123 4567", "1 555 123 4567"} {
		_, err = svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 2, Number: number})
		assert.ErrorIs(t, err, tenantdomain.ErrNumberTaken, number)
	}

	tenant, err := svc.Resolve(ctx, "(555) 123-4567")
	require.NoError(t, err)
	assert.EqualValues(t, 1, tenant.OrganizationID)
	assert.Equal(t, first.ID, tenant.PhoneNumberID)
}

func TestRegisterStoresNationalNumbersWithCountryCode(t *testing.T) {
	svc := setupTenantService(t)
	ctx := context.Background()

	number, err := svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 3, Number: "555-987-6543"})
	require.NoError(t, err)
	assert.Equal(t, "15559876543", number.Number)

	_, err = svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 4, Number: "+1 555 987 6543"})
	assert.ErrorIs(t, err, tenantdomain.ErrNumberTaken)

	international, err := svc.Register(ctx, tenantdomain.RegisterNumberRequest{OrganizationID: 4, Number: "+44 20 7946 0000"})
	require.NoError(t, err)
	assert.Equal(t, "442079460000", international.Number)
}
