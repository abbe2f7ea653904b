// Package audithook bridges committed vault events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin           = (*Extension)(nil)
	_ plugin.OnEvent          = (*Extension)(nil)
	_ plugin.OnChargeFailed   = (*Extension)(nil)
	_ plugin.OnBatchCompleted = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges vault events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnEvent implements plugin.OnEvent. Every committed event becomes one
// audit entry named after its kind.
func (e *Extension) OnEvent(ctx context.Context, evt *event.Event) error {
	class, ok := kindClass[evt.Kind]
	if !ok {
		class = classification{ResourceVault, CategoryAdmin, SeverityInfo, OutcomeSuccess}
	}

	resourceID := evt.SubscriptionKey()
	if class.resource == ResourceMerchant {
		resourceID = evt.Actor.String()
	}

	kv := []any{
		"event_id", evt.ID.String(),
		"timestamp", evt.Timestamp,
	}
	if !evt.Actor.IsZero() {
		kv = append(kv, "actor", evt.Actor.String())
	}
	if !evt.Counterparty.IsZero() {
		kv = append(kv, "counterparty", evt.Counterparty.String())
	}
	if !evt.Amount.IsZero() {
		kv = append(kv, "amount", evt.Amount.String())
	}
	for k, v := range evt.Data {
		kv = append(kv, k, v)
	}

	var reason error
	if evt.Kind == event.KindChargeFailed {
		reason = subvault.ErrInsufficientBalance
	}

	return e.record(ctx, string(evt.Kind), class.severity, class.outcome,
		class.resource, resourceID, class.category, reason, kv...)
}

// OnChargeFailed implements plugin.OnChargeFailed. Only rejections that
// left no trace in the event log are recorded here; the insufficient
// balance outcome is committed and audited through OnEvent.
func (e *Extension) OnChargeFailed(ctx context.Context, subID uint32, err error) error {
	if errors.Is(err, subvault.ErrInsufficientBalance) {
		return nil
	}

	severity := SeverityWarning
	if errors.Is(err, subvault.ErrUnauthorized) || errors.Is(err, subvault.ErrEmergencyStop) {
		severity = SeverityError
	}
	return e.record(ctx, ActionChargeRejected, severity, OutcomeFailure,
		ResourceSubscription, strconv.FormatUint(uint64(subID), 10), CategoryBilling, err,
		"code", uint32(subvault.CodeOf(err)),
		"retryable", subvault.IsRetryable(err),
	)
}

// OnBatchCompleted implements plugin.OnBatchCompleted.
func (e *Extension) OnBatchCompleted(ctx context.Context, summary plugin.BatchSummary) error {
	outcome, severity := OutcomeSuccess, SeverityInfo
	switch {
	case summary.Failed > 0 && summary.Succeeded == 0:
		outcome, severity = OutcomeFailure, SeverityWarning
	case summary.Failed > 0:
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionBatchCompleted, severity, outcome,
		ResourceBatch, summary.RunID.String(), CategoryBilling, nil,
		"kind", summary.Kind,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed_ms", summary.Elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
