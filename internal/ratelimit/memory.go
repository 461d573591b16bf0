package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/smallbiznis/voxbill/internal/clock"
	"golang.org/x/time/rate"
)

// idleEviction bounds how long an untouched bucket is kept.
const idleEviction = 10 * time.Minute

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryGuard keeps buckets in process. Limits apply per replica.
type MemoryGuard struct {
	clock clock.Clock

	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	lastSweep time.Time
}

func NewMemoryGuard(clk clock.Clock) *MemoryGuard {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &MemoryGuard{
		clock:     clk,
		buckets:   make(map[string]*memoryBucket),
		lastSweep: clk.Now(),
	}
}

func (g *MemoryGuard) Admit(ctx context.Context, key string, policy Policy) (Decision, error) {
	if err := policy.validate(key); err != nil {
		return Decision{}, err
	}

	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sweep(now)
	bucketKey := policy.Name + ":" + key
	bucket, ok := g.buckets[bucketKey]
	if !ok || bucket.limiter.Limit() != rate.Limit(policy.Rate) || bucket.limiter.Burst() != policy.Burst {
		bucket = &memoryBucket{limiter: rate.NewLimiter(rate.Limit(policy.Rate), policy.Burst)}
		g.buckets[bucketKey] = bucket
	}
	bucket.lastSeen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{
			Allowed:    false,
			Limit:      policy.Burst,
			Remaining:  0,
			RetryAfter: delay,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Limit:     policy.Burst,
		Remaining: int(math.Max(0, math.Floor(bucket.limiter.TokensAt(now)))),
	}, nil
}

func (g *MemoryGuard) sweep(now time.Time) {
	if now.Sub(g.lastSweep) < idleEviction {
		return
	}
	for key, bucket := range g.buckets {
		if now.Sub(bucket.lastSeen) >= idleEviction {
			delete(g.buckets, key)
		}
	}
	g.lastSweep = now
}
