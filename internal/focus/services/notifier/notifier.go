// Package notifier fans change events out to connected page contexts on a
// best-effort basis. A failing target never affects the others and nothing is
// reported back to the caller beyond logs and metrics.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/haukened/rr-focus/internal/focus/common/log"
	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/infra/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single delivery when Options.Timeout is zero.
const DefaultTimeout = time.Second

// Enumerator supplies the currently addressable contexts. The set may be
// stale or empty.
type Enumerator interface {
	Contexts() []domain.Context
}

// Report aggregates per-target results of one notification, in target order.
type Report struct {
	Event   domain.ChangeEvent
	Results []domain.DeliveryResult
}

// Delivered counts successful deliveries.
func (r Report) Delivered() int { return r.count(domain.DeliveryDelivered) }

// Failed counts failed deliveries.
func (r Report) Failed() int { return r.count(domain.DeliveryFailed) }

func (r Report) count(s domain.DeliveryStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Options configures a Notifier.
type Options struct {
	Enumerator Enumerator
	Timeout    time.Duration
	Logger     log.Logger
	Metrics    *metrics.Metrics
	// OnReport, if set, receives every aggregated report.
	OnReport func(Report)
}

// Notifier delivers change events.
type Notifier struct {
	enum     Enumerator
	timeout  time.Duration
	logger   log.Logger
	metrics  *metrics.Metrics
	onReport func(Report)
}

// New constructs a Notifier.
func New(opts Options) *Notifier {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Notifier{
		enum:     opts.Enumerator,
		timeout:  opts.Timeout,
		logger:   log.Component(opts.Logger, "notifier"),
		metrics:  opts.Metrics,
		onReport: opts.OnReport,
	}
}

// Broadcast notifies every context the enumerator currently knows about.
func (n *Notifier) Broadcast(ctx context.Context, event domain.ChangeEvent) {
	if n.enum == nil {
		return
	}
	n.Notify(ctx, n.enum.Contexts(), event)
}

// Notify delivers event to each target independently and concurrently. It
// returns once every attempt has settled or timed out.
func (n *Notifier) Notify(ctx context.Context, targets []domain.Context, event domain.ChangeEvent) {
	report := Report{Event: event, Results: make([]domain.DeliveryResult, len(targets))}

	// A zero Group never cancels siblings; deliver folds every error into
	// its result.
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			report.Results[i] = n.deliver(ctx, target, event)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range report.Results {
		n.metrics.ObserveDelivery(res.Status.String())
		if res.Status == domain.DeliveryFailed {
			n.logger.Debug(map[string]any{"target": res.Target, "error": res.Err}, "delivery failed")
		}
	}
	n.logger.Debug(map[string]any{
		"targets":   len(targets),
		"delivered": report.Delivered(),
		"failed":    report.Failed(),
		"active":    event.Active,
	}, "change event broadcast")
	if n.onReport != nil {
		n.onReport(report)
	}
}

// deliver makes one bounded attempt and turns any outcome, including a panic
// in the target, into a DeliveryResult.
func (n *Notifier) deliver(ctx context.Context, target domain.Context, event domain.ChangeEvent) (res domain.DeliveryResult) {
	if target == nil {
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: fmt.Errorf("nil target")}
	}
	res.Target = target.ID()
	defer func() {
		if r := recover(); r != nil {
			res.Status = domain.DeliveryFailed
			res.Err = fmt.Errorf("target panicked: %v", r)
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := target.Deliver(dctx, event); err != nil {
		res.Status = domain.DeliveryFailed
		res.Err = err
		return res
	}
	res.Status = domain.DeliveryDelivered
	return res
}
