// Package observability provides a metrics extension for the vault that
// records committed event counts through a MetricFactory.
package observability

import (
	"context"
	"errors"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/plugin"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin           = (*MetricsExtension)(nil)
	_ plugin.OnEvent          = (*MetricsExtension)(nil)
	_ plugin.OnStatusChanged  = (*MetricsExtension)(nil)
	_ plugin.OnCharged        = (*MetricsExtension)(nil)
	_ plugin.OnChargeFailed   = (*MetricsExtension)(nil)
	_ plugin.OnBatchCompleted = (*MetricsExtension)(nil)
	_ plugin.OnEmergencyStop  = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// Gauge interface for metric gauges.
type Gauge interface {
	Set(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// MetricsExtension records vault-wide billing metrics.
// Register it as a vault plugin to track them automatically.
type MetricsExtension struct {
	factory MetricFactory

	// events counts committed events per kind.
	events map[event.Kind]Counter

	// Status transitions
	EnteredPaused       Counter
	EnteredActive       Counter
	EnteredCancelled    Counter
	EnteredInsufficient Counter

	// Charge metrics
	ChargeAmount    Histogram
	UsageAmount     Histogram
	ChargeRejected  Counter
	ChargeRetryable Counter

	// Batch metrics
	BatchRuns     Counter
	BatchItems    Counter
	BatchFailures Counter
	BatchLatency  Histogram

	// Breaker
	EmergencyStop Gauge
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,
		events:  make(map[event.Kind]Counter, len(event.Kinds())),

		EnteredPaused:       factory.Counter("subvault.status.paused"),
		EnteredActive:       factory.Counter("subvault.status.active"),
		EnteredCancelled:    factory.Counter("subvault.status.cancelled"),
		EnteredInsufficient: factory.Counter("subvault.status.insufficient_balance"),

		ChargeAmount:    factory.Histogram("subvault.charge.amount"),
		UsageAmount:     factory.Histogram("subvault.charge.usage_amount"),
		ChargeRejected:  factory.Counter("subvault.charge.rejected"),
		ChargeRetryable: factory.Counter("subvault.charge.rejected_retryable"),

		BatchRuns:     factory.Counter("subvault.batch.runs"),
		BatchItems:    factory.Counter("subvault.batch.items"),
		BatchFailures: factory.Counter("subvault.batch.failures"),
		BatchLatency:  factory.Histogram("subvault.batch.latency_ms"),

		EmergencyStop: factory.Gauge("subvault.emergency_stop"),
	}
	for _, kind := range event.Kinds() {
		m.events[kind] = factory.Counter("subvault.events." + string(kind))
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnEvent implements plugin.OnEvent.
func (m *MetricsExtension) OnEvent(_ context.Context, e *event.Event) error {
	if c, ok := m.events[e.Kind]; ok {
		c.Inc()
	}
	return nil
}

// OnStatusChanged implements plugin.OnStatusChanged.
func (m *MetricsExtension) OnStatusChanged(_ context.Context, sub *subscription.Subscription, _ subscription.Status) error {
	switch sub.Status {
	case subscription.StatusActive:
		m.EnteredActive.Inc()
	case subscription.StatusPaused:
		m.EnteredPaused.Inc()
	case subscription.StatusCancelled:
		m.EnteredCancelled.Inc()
	case subscription.StatusInsufficientBalance:
		m.EnteredInsufficient.Inc()
	}
	return nil
}

// OnCharged implements plugin.OnCharged.
func (m *MetricsExtension) OnCharged(_ context.Context, _ *subscription.Subscription, amount types.Amount, usage bool) error {
	f, _ := amount.Big().Float64()
	if usage {
		m.UsageAmount.Observe(f)
	} else {
		m.ChargeAmount.Observe(f)
	}
	return nil
}

// OnChargeFailed implements plugin.OnChargeFailed. The insufficient balance
// outcome is counted through its committed event.
func (m *MetricsExtension) OnChargeFailed(_ context.Context, _ uint32, err error) error {
	if errors.Is(err, subvault.ErrInsufficientBalance) {
		return nil
	}
	m.ChargeRejected.Inc()
	if subvault.IsRetryable(err) {
		m.ChargeRetryable.Inc()
	}
	return nil
}

// OnBatchCompleted implements plugin.OnBatchCompleted.
func (m *MetricsExtension) OnBatchCompleted(_ context.Context, summary plugin.BatchSummary) error {
	m.BatchRuns.Inc()
	m.BatchItems.Add(float64(summary.Total))
	m.BatchFailures.Add(float64(summary.Failed))
	m.BatchLatency.Observe(float64(summary.Elapsed.Milliseconds()))
	return nil
}

// OnEmergencyStop implements plugin.OnEmergencyStop.
func (m *MetricsExtension) OnEmergencyStop(_ context.Context, stopped bool, _ types.Address) error {
	if stopped {
		m.EmergencyStop.Set(1)
	} else {
		m.EmergencyStop.Set(0)
	}
	return nil
}
