package reply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/assistext/assistext/pkg/logging"
)

// ErrBreakerOpen is returned while the LLM circuit breaker rejects calls.
var ErrBreakerOpen = errors.New("reply: llm circuit breaker open")

// BreakerSettings configure BreakerClient.
type BreakerSettings struct {
	Name                string
	ConsecutiveFailures uint32
	Cooldown            time.Duration
	HalfOpenRequests    uint32
}

// BreakerClient wraps an LLMClient in a circuit breaker so a failing provider
// is skipped (and the rule fallback used) until the cooldown elapses.
type BreakerClient struct {
	next   LLMClient
	cb     *gobreaker.CircuitBreaker
	logger *logging.Logger
}

func NewBreakerClient(next LLMClient, settings BreakerSettings, logger *logging.Logger) *BreakerClient {
	if next == nil {
		panic("reply: breaker requires an llm client")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if settings.Name == "" {
		settings.Name = "llm"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}

	threshold := settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("llm circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A caller that went away says nothing about provider health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerClient{next: next, cb: cb, logger: logger}
}

// Complete implements LLMClient.
func (b *BreakerClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return LLMResponse{}, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
		}
		return LLMResponse{}, err
	}
	return out.(LLMResponse), nil
}

// State reports the breaker state for health output.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}
