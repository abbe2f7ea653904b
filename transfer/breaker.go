package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/xraph/subvault/types"
)

var _ Transferer = (*Breaker)(nil)

// BreakerConfig configures the circuit breaker around a Transferer.
type BreakerConfig struct {
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold trips the breaker after this many consecutive failures.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the defaults used by WithBreaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker guards a remote Transferer with a circuit breaker so that a failing
// token service is not hammered by every charge in a batch.
type Breaker struct {
	next Transferer
	cb   *gobreaker.CircuitBreaker[struct{}]
}

// WithBreaker wraps next. Business rejections such as insufficient funds do
// not count as failures; only transport-level errors trip the breaker.
func WithBreaker(next Transferer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        "transfer",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInvalidAmount)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("transfer circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Transfer implements Transferer.
func (b *Breaker) Transfer(ctx context.Context, token, from, to types.Address, amount types.Amount) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Transfer(ctx, token, from, to, amount)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
