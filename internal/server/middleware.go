package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/voxbill/internal/observability/context"
	"github.com/smallbiznis/voxbill/internal/observability/logger"
	"github.com/smallbiznis/voxbill/internal/orgcontext"
	"github.com/smallbiznis/voxbill/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	HeaderOrg = "X-Org-ID"

	headerRetryAfter         = "Retry-After"
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
)

// OrgContext scopes the request to the organization named by the X-Org-ID header.
// Identity is established upstream; the header carries the authenticated tenant.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID <= 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Admit consults the admission guard before the handler runs. A denied request
// does no further work.
func (s *Server) Admit(policy ratelimit.Policy, keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := keyFn(c)
		decision, err := s.guard.Admit(ctx, key, policy)
		if err != nil {
			logger.FromContext(ctx).Warn("admission check failed",
				zap.String("policy", policy.Name),
				zap.Error(err),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, policy.Name, "guard_error")
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header(headerRateLimitLimit, strconv.Itoa(decision.Limit))
		c.Header(headerRateLimitRemaining, strconv.Itoa(max(decision.Remaining, 0)))
		if !decision.Allowed {
			logger.FromContext(ctx).Warn("rate limit exceeded",
				zap.String("policy", policy.Name),
				zap.String("route", normalizeRateLimitEndpoint(c)),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, policy.Name, "rate")
			c.Header(headerRetryAfter, strconv.Itoa(retryAfterSeconds(decision)))
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, policy.Name)
		c.Next()
	}
}

func ingestAdmissionKey(c *gin.Context) string {
	return "ingest:" + c.ClientIP()
}

func orgAdmissionKey(c *gin.Context) string {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		return "org:anonymous"
	}
	return "org:" + orgID.String()
}

// retryAfterSeconds rounds the wait up to whole seconds, at least one.
func retryAfterSeconds(decision ratelimit.Decision) int {
	seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
