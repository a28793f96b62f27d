package health

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/autosms-go/internal/resilience"
)

// ErrCircuitOpen is reported while the AutoSMS breaker rejects calls.
var ErrCircuitOpen = errors.New("autosms circuit open")

// RedisProbe pings the client.
func RedisProbe(client redis.UniversalClient) Probe {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		return client.Ping(ctx).Err()
	}
}

// BreakerProbe fails while the breaker is open. Half-open counts as healthy so
// the trial call can go through.
func BreakerProbe(b *resilience.Breaker) Probe {
	return func(context.Context) error {
		if b != nil && b.State() == resilience.Open {
			return ErrCircuitOpen
		}
		return nil
	}
}
