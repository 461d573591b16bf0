// Package retry wraps a Dispatcher with a bounded exponential backoff. Every attempt
// goes through the wrapped Dispatcher, so each one is logged with its own retry count.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/voxbill/internal/config"
	webhookdomain "github.com/smallbiznis/voxbill/internal/webhook/domain"
	"github.com/smallbiznis/voxbill/internal/webhook/dispatcher"
	"go.uber.org/zap"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func PolicyFromConfig(cfg config.Config) Policy {
	return Policy{
		MaxAttempts:     cfg.Webhook.MaxAttempts,
		InitialInterval: cfg.Webhook.RetryInitial,
		MaxInterval:     30 * time.Second,
	}
}

type Dispatcher struct {
	next   webhookdomain.Dispatcher
	policy Policy
	log    *zap.Logger
}

func New(next webhookdomain.Dispatcher, policy Policy, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		next:   next,
		policy: policy,
		log:    log.Named("webhook.retry"),
	}
}

// Provide exposes the configured dispatcher. With a single attempt it is the plain dispatcher.
func Provide(d *dispatcher.Dispatcher, cfg config.Config, log *zap.Logger) webhookdomain.Dispatcher {
	return New(d, PolicyFromConfig(cfg), log)
}

func (r *Dispatcher) Dispatch(ctx context.Context, req webhookdomain.DeliveryRequest) (*webhookdomain.DeliveryResult, error) {
	if r.policy.MaxAttempts <= 1 {
		return r.next.Dispatch(ctx, req)
	}

	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.Reset()

	for attempt := 0; ; attempt++ {
		req.RetryCount = attempt
		result, err := r.next.Dispatch(ctx, req)
		if err != nil {
			return result, err
		}
		if result.Success || attempt+1 >= r.policy.MaxAttempts || !Retryable(result) {
			return result, nil
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return result, nil
		}
		r.log.Debug("retrying webhook delivery",
			zap.String("endpoint_id", req.Endpoint.ID.String()),
			zap.String("event", req.Event),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, nil
		case <-timer.C:
		}
	}
}

// Retryable reports whether a failed attempt may succeed later: network failures,
// timeouts, throttling and server errors.
func Retryable(result *webhookdomain.DeliveryResult) bool {
	if result == nil || result.Success {
		return false
	}
	if result.StatusCode == nil {
		return true
	}
	switch code := *result.StatusCode; {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
