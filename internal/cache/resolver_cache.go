package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/voxbill/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/voxbill/internal/tenant/domain"
	"go.uber.org/fx"
)

const defaultTenantTTL = time.Minute

// ResolverCache stores hot-path lookups for event ingestion: phone number ownership and
// the current subscription of an organization.
type ResolverCache interface {
	GetTenant(digits string) (tenantdomain.TenantContext, bool)
	SetTenant(digits string, tenant tenantdomain.TenantContext, ttl time.Duration)
	GetSubscription(orgID snowflake.ID) (subscriptiondomain.Subscription, bool)
	SetSubscription(orgID snowflake.ID, subscription subscriptiondomain.Subscription, ttl time.Duration)
}

type resolverCache struct {
	tenants       Cache[string, tenantdomain.TenantContext]
	subscriptions Cache[snowflake.ID, subscriptiondomain.Subscription]
}

var Module = fx.Module("cache",
	fx.Provide(NewResolverCache),
)

func NewResolverCache() ResolverCache {
	return &resolverCache{
		tenants:       NewTTLCache[string, tenantdomain.TenantContext](),
		subscriptions: NewTTLCache[snowflake.ID, subscriptiondomain.Subscription](),
	}
}

func (c *resolverCache) GetTenant(digits string) (tenantdomain.TenantContext, bool) {
	return c.tenants.Get(digits)
}

func (c *resolverCache) SetTenant(digits string, tenant tenantdomain.TenantContext, ttl time.Duration) {
	if digits == "" || tenant.OrganizationID == 0 {
		return
	}
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	c.tenants.Set(digits, tenant, ttl)
}

func (c *resolverCache) GetSubscription(orgID snowflake.ID) (subscriptiondomain.Subscription, bool) {
	return c.subscriptions.Get(orgID)
}

// SetSubscription keeps the entry no longer than ttl; callers pass the time left in the period.
func (c *resolverCache) SetSubscription(orgID snowflake.ID, subscription subscriptiondomain.Subscription, ttl time.Duration) {
	if subscription.ID == 0 || ttl <= 0 {
		return
	}
	c.subscriptions.Set(orgID, subscription, ttl)
}
