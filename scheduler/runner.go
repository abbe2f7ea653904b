// Package scheduler runs periodic batch charges of due subscriptions on a
// cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// DefaultSpec charges due subscriptions once a minute.
const DefaultSpec = "@every 1m"

// DefaultPageSize bounds the subscriptions charged per run.
const DefaultPageSize = 500

// Charger is the part of the vault the runner drives.
type Charger interface {
	ListDueSubscriptions(ctx context.Context, limit int) ([]*subscription.Subscription, error)
	BatchCharge(ctx context.Context, subIDs []uint32) ([]subvault.BatchResult, error)
}

// Summary is the outcome of one run.
type Summary struct {
	Due       int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// Runner charges due subscriptions under the operator identity. BatchCharge
// is admin-only, so the operator must be the vault administrator.
type Runner struct {
	vault    Charger
	operator types.Address
	spec     string
	pageSize int
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Runner.
type Option func(*Runner)

// WithSpec sets the cron schedule. Standard five-field specs and
// descriptors such as "@every 30s" are accepted.
func WithSpec(spec string) Option {
	return func(r *Runner) { r.spec = spec }
}

// WithPageSize sets how many due subscriptions one run charges.
func WithPageSize(n int) Option {
	return func(r *Runner) { r.pageSize = n }
}

// WithTimeout bounds each scheduled run.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New creates a Runner for vault acting as operator.
func New(vault Charger, operator types.Address, opts ...Option) *Runner {
	r := &Runner{
		vault:    vault,
		operator: operator,
		spec:     DefaultSpec,
		pageSize: DefaultPageSize,
		timeout:  5 * time.Minute,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce charges one page of due subscriptions.
func (r *Runner) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()

	due, err := r.vault.ListDueSubscriptions(ctx, r.pageSize)
	if err != nil {
		return Summary{}, fmt.Errorf("scheduler: list due subscriptions: %w", err)
	}
	summary := Summary{Due: len(due)}
	if len(due) == 0 {
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	ids := make([]uint32, len(due))
	for i, sub := range due {
		ids[i] = sub.ID
	}

	results, err := r.vault.BatchCharge(subvault.WithCaller(ctx, r.operator), ids)
	if err != nil {
		return summary, fmt.Errorf("scheduler: batch charge: %w", err)
	}
	for _, res := range results {
		if res.Success {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		r.logger.Debug("scheduled charge failed",
			"subscription_id", res.SubscriptionID,
			"code", res.ErrorCode,
			"error", res.Err,
		)
	}
	summary.Elapsed = time.Since(start)
	return summary, nil
}

// Start schedules runs until Stop is called.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("scheduler: already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.spec, r.tick); err != nil {
		return fmt.Errorf("scheduler: invalid spec %q: %w", r.spec, err)
	}
	c.Start()
	r.cron = c

	r.logger.Info("scheduler started", "spec", r.spec, "page_size", r.pageSize)
	return nil
}

// Stop stops scheduling and waits for a running charge to finish or ctx
// to end.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		r.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	summary, err := r.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, subvault.ErrEmergencyStop) {
			r.logger.Warn("scheduled charge skipped: emergency stop active")
			return
		}
		r.logger.Error("scheduled charge failed", "error", err)
		return
	}
	if summary.Due == 0 {
		return
	}
	r.logger.Info("scheduled charge completed",
		"due", summary.Due,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed,
	)
}
