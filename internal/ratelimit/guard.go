// Package ratelimit implements the admission guard consulted before mutating
// ingestion and webhook operations.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/voxbill/internal/config"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var ErrInvalidPolicy = errors.New("invalid_rate_limit_policy")

// Policy is a token bucket refilled at Rate tokens per second up to Burst.
type Policy struct {
	Name  string
	Rate  float64
	Burst int
}

func (p Policy) validate(key string) error {
	if key == "" || p.Rate <= 0 || p.Burst <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Decision is the outcome of one admission check. RetryAfter is set when denied.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Guard admits or denies one unit of work for key. An error means the guard
// could not decide; callers treat it as a denial.
type Guard interface {
	Admit(ctx context.Context, key string, policy Policy) (Decision, error)
}

// Policies are the named limits applied by the HTTP layer.
type Policies struct {
	Ingest   Policy
	Webhook  Policy
	Mutation Policy
}

func PoliciesFromConfig(cfg config.Config) Policies {
	return Policies{
		Ingest: Policy{
			Name:  "ingest",
			Rate:  cfg.RateLimit.IngestRate,
			Burst: cfg.RateLimit.IngestBurst,
		},
		Webhook: Policy{
			Name:  "webhook",
			Rate:  cfg.RateLimit.WebhookRate,
			Burst: cfg.RateLimit.WebhookBurst,
		},
		Mutation: Policy{
			Name:  "mutation",
			Rate:  cfg.RateLimit.MutationRate,
			Burst: cfg.RateLimit.MutationBurst,
		},
	}
}

// AllowAll admits everything. It is used when rate limiting is disabled.
type AllowAll struct{}

func (AllowAll) Admit(ctx context.Context, key string, policy Policy) (Decision, error) {
	return Decision{Allowed: true, Limit: policy.Burst, Remaining: policy.Burst}, nil
}
