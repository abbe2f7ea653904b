package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// DefaultHookTimeout bounds each hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It caches each plugin's hook interfaces at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onEvent               []OnEvent
	onSubscriptionCreated []OnSubscriptionCreated
	onStatusChanged       []OnStatusChanged
	onCharged             []OnCharged
	onChargeFailed        []OnChargeFailed
	onBatchCompleted      []OnBatchCompleted
	onEmergencyStop       []OnEmergencyStop
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEvent); ok {
		r.onEvent = append(r.onEvent, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnStatusChanged); ok {
		r.onStatusChanged = append(r.onStatusChanged, v)
	}
	if v, ok := p.(OnCharged); ok {
		r.onCharged = append(r.onCharged, v)
	}
	if v, ok := p.(OnChargeFailed); ok {
		r.onChargeFailed = append(r.onChargeFailed, v)
	}
	if v, ok := p.(OnBatchCompleted); ok {
		r.onBatchCompleted = append(r.onBatchCompleted, v)
	}
	if v, ok := p.(OnEmergencyStop); ok {
		r.onEmergencyStop = append(r.onEmergencyStop, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook interfaces implemented by p.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	check := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	check(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	check(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	check(reflect.TypeOf((*OnEvent)(nil)).Elem(), "OnEvent")
	check(reflect.TypeOf((*OnSubscriptionCreated)(nil)).Elem(), "OnSubscriptionCreated")
	check(reflect.TypeOf((*OnStatusChanged)(nil)).Elem(), "OnStatusChanged")
	check(reflect.TypeOf((*OnCharged)(nil)).Elem(), "OnCharged")
	check(reflect.TypeOf((*OnChargeFailed)(nil)).Elem(), "OnChargeFailed")
	check(reflect.TypeOf((*OnBatchCompleted)(nil)).Elem(), "OnBatchCompleted")
	check(reflect.TypeOf((*OnEmergencyStop)(nil)).Elem(), "OnEmergencyStop")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs call for each plugin in hooks and logs failures. Hook errors
// never propagate.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, call func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, vault any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, vault)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitEvent calls OnEvent for all plugins that implement it.
func (r *Registry) EmitEvent(ctx context.Context, e *event.Event) {
	emit(ctx, r, "OnEvent", snapshot(r, &r.onEvent), func(p OnEvent) error {
		return p.OnEvent(ctx, e)
	})
}

// EmitSubscriptionCreated calls OnSubscriptionCreated for all plugins that implement it.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

// EmitStatusChanged calls OnStatusChanged for all plugins that implement it.
func (r *Registry) EmitStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) {
	emit(ctx, r, "OnStatusChanged", snapshot(r, &r.onStatusChanged), func(p OnStatusChanged) error {
		return p.OnStatusChanged(ctx, sub, from)
	})
}

// EmitCharged calls OnCharged for all plugins that implement it.
func (r *Registry) EmitCharged(ctx context.Context, sub *subscription.Subscription, amount types.Amount, usage bool) {
	emit(ctx, r, "OnCharged", snapshot(r, &r.onCharged), func(p OnCharged) error {
		return p.OnCharged(ctx, sub, amount, usage)
	})
}

// EmitChargeFailed calls OnChargeFailed for all plugins that implement it.
func (r *Registry) EmitChargeFailed(ctx context.Context, subID uint32, cause error) {
	emit(ctx, r, "OnChargeFailed", snapshot(r, &r.onChargeFailed), func(p OnChargeFailed) error {
		return p.OnChargeFailed(ctx, subID, cause)
	})
}

// EmitBatchCompleted calls OnBatchCompleted for all plugins that implement it.
func (r *Registry) EmitBatchCompleted(ctx context.Context, summary BatchSummary) {
	emit(ctx, r, "OnBatchCompleted", snapshot(r, &r.onBatchCompleted), func(p OnBatchCompleted) error {
		return p.OnBatchCompleted(ctx, summary)
	})
}

// EmitEmergencyStop calls OnEmergencyStop for all plugins that implement it.
func (r *Registry) EmitEmergencyStop(ctx context.Context, stopped bool, admin types.Address) {
	emit(ctx, r, "OnEmergencyStop", snapshot(r, &r.onEmergencyStop), func(p OnEmergencyStop) error {
		return p.OnEmergencyStop(ctx, stopped, admin)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
