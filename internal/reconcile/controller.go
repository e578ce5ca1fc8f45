// Package reconcile drives the update loop that keeps the local document
// store converged with the remote extraction backend.
//
// The controller consumes two unreliable channels. The polling channel is
// the source of truth: a cheap status check followed, when the backend's
// extraction counter has advanced, by a full-document fetch. The push
// channel is an accelerator only: a push notification triggers the same
// check-then-fetch body immediately but never merges pushed data directly.
// Either channel may fail or fall silent without compromising convergence,
// because every merge is re-derived from a full fetch and the per-key
// overwrite merge is idempotent.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/roledraft/roledraft/internal/document"
	"github.com/roledraft/roledraft/internal/extraction"
	"github.com/roledraft/roledraft/internal/normalize"
	"github.com/roledraft/roledraft/internal/observe"
)

// Default controller parameters.
const (
	defaultFastInterval     = 2 * time.Second
	defaultSlowInterval     = 5 * time.Second
	defaultThrottle         = 0.2
	defaultTickTimeout      = 10 * time.Second
	defaultFailureThreshold = 3
)

// Config configures a [Controller].
type Config struct {
	// Client is the polling-channel view of the extraction backend. Required.
	Client extraction.Client

	// Normalizer converts raw backend field updates into canonical patches.
	// Required.
	Normalizer *normalize.Normalizer

	// Store is the document store merges land in. Required.
	Store *document.Store

	// FastInterval is the poll period while the push channel has never
	// delivered. Defaults to 2s if zero.
	FastInterval time.Duration

	// SlowInterval is the poll period once the push channel has proven
	// healthy. Defaults to 5s if zero.
	SlowInterval time.Duration

	// Throttle is the probability that a timer tick still executes its body
	// once the push channel is healthy. Polling continues as a safety net at
	// this reduced rate. Defaults to 0.2 if zero; 1 disables throttling.
	Throttle float64

	// TickTimeout bounds the status check plus document fetch of a single
	// tick. Defaults to 10s if zero.
	TickTimeout time.Duration

	// FailureThreshold is the number of consecutive tick failures, before
	// the push channel has ever delivered, after which OnConnectivityLost
	// fires. Defaults to 3 if zero.
	FailureThreshold int

	// OnConnectivityLost is called once when the failure threshold is
	// crossed. Advisory only; the controller keeps polling. May be nil.
	OnConnectivityLost func(consecutive int)

	// OnConnectivityRestored is called on the first successful tick after
	// OnConnectivityLost fired. May be nil.
	OnConnectivityRestored func()

	// OnMerge is called after every backend-sourced merge, including no-op
	// merges, with the update source and the merge result. May be nil.
	OnMerge func(source string, res document.MergeResult)

	// Logger is used for tick-level diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records controller activity. May be nil.
	Metrics *observe.Metrics

	// Rand supplies the throttle decision in [0, 1). Defaults to
	// rand.Float64. Tests inject a deterministic source here.
	Rand func() float64
}

// Controller owns the reconciliation loop. Create with [New], drive with
// [Controller.Run], and feed push notifications via
// [Controller.HandlePushEvent]. All methods are safe for concurrent use.
type Controller struct {
	client    extraction.Client
	norm      *normalize.Normalizer
	store     *document.Store
	fast      time.Duration
	slow      time.Duration
	throttle  float64
	timeout   time.Duration
	threshold int

	onLost     func(int)
	onRestored func()
	onMerge    func(string, document.MergeResult)
	log        *slog.Logger
	metrics    *observe.Metrics
	randFloat  func() float64

	// tickMu serialises tick bodies so a push-triggered tick and a timer
	// tick never race on the cursor comparison.
	tickMu sync.Mutex

	mu          sync.Mutex
	cursor      int64
	pushHealthy bool
	failures    int
	warned      bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a [Controller] from cfg. Returns an error if a required
// dependency is missing.
func New(cfg Config) (*Controller, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("reconcile: Client is required")
	}
	if cfg.Normalizer == nil {
		return nil, fmt.Errorf("reconcile: Normalizer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("reconcile: Store is required")
	}

	fast := cfg.FastInterval
	if fast <= 0 {
		fast = defaultFastInterval
	}
	slow := cfg.SlowInterval
	if slow <= 0 {
		slow = defaultSlowInterval
	}
	throttle := cfg.Throttle
	if throttle <= 0 {
		throttle = defaultThrottle
	}
	timeout := cfg.TickTimeout
	if timeout <= 0 {
		timeout = defaultTickTimeout
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	randFloat := cfg.Rand
	if randFloat == nil {
		randFloat = rand.Float64
	}

	return &Controller{
		client:     cfg.Client,
		norm:       cfg.Normalizer,
		store:      cfg.Store,
		fast:       fast,
		slow:       slow,
		throttle:   throttle,
		timeout:    timeout,
		threshold:  threshold,
		onLost:     cfg.OnConnectivityLost,
		onRestored: cfg.OnConnectivityRestored,
		onMerge:    cfg.OnMerge,
		log:        logger,
		metrics:    cfg.Metrics,
		randFloat:  randFloat,
		done:       make(chan struct{}),
	}, nil
}

// Run performs the baseline fetch and then polls until ctx is cancelled or
// [Controller.Stop] is called. Backend failures are logged and absorbed;
// Run returns a non-nil error only for context cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.baseline(ctx)

	timer := time.NewTimer(c.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-timer.C:
			c.pollTick(ctx)
			timer.Reset(c.interval())
		}
	}
}

// Stop halts the loop. Safe to call multiple times.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
}

// HandlePushEvent marks the push channel healthy and runs one tick body
// immediately. Push payloads are hints: the tick still re-derives state
// through the status and document endpoints.
func (c *Controller) HandlePushEvent(ctx context.Context, ev extraction.PushEvent) {
	c.mu.Lock()
	if !c.pushHealthy {
		c.pushHealthy = true
		c.log.Info("push channel healthy, slowing poll interval",
			"slow_interval", c.slow,
			"throttle", c.throttle,
		)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordPushEvent(ctx, ev.Type)
	}
	c.log.Debug("push notification received", "type", ev.Type, "field", ev.FieldName)

	c.runTick(ctx, observe.SourcePush)
}

// PushHealthy reports whether the push channel has ever delivered an event.
// The flag is one-way for the lifetime of the controller.
func (c *Controller) PushHealthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pushHealthy
}

// Cursor returns the last extraction counter consumed from the backend.
func (c *Controller) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// interval returns the current poll period based on push-channel health.
func (c *Controller) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushHealthy {
		return c.slow
	}
	return c.fast
}

// baseline fetches the full document once at startup and merges it
// unconditionally, seeding the cursor from a preceding status check so an
// extraction completed before startup is not re-fetched on the first tick.
func (c *Controller) baseline(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	status, err := c.client.Status(tctx)
	if err != nil {
		c.log.Warn("baseline status check failed", "error", err)
		if c.metrics != nil {
			c.metrics.RecordBackendError(ctx, "status")
		}
	} else {
		c.mu.Lock()
		c.cursor = status.ExtractionCounter
		c.mu.Unlock()
	}

	update, err := c.client.Document(tctx)
	if err != nil {
		c.log.Warn("baseline document fetch failed", "error", err)
		if c.metrics != nil {
			c.metrics.RecordBackendError(ctx, "document")
		}
		c.recordFailure()
		return
	}

	res := c.store.Merge(c.norm.Normalize(update))
	c.recordSuccess()
	if c.metrics != nil {
		c.metrics.RecordMerge(ctx, observe.SourceBaseline, len(res.ChangedKeys))
	}
	c.log.Info("baseline document merged", "changed_keys", res.ChangedKeys)
	if c.onMerge != nil {
		c.onMerge(observe.SourceBaseline, res)
	}
}

// pollTick runs one timer-driven tick, applying the push-healthy throttle.
func (c *Controller) pollTick(ctx context.Context) {
	if c.PushHealthy() && c.randFloat() >= c.throttle {
		if c.metrics != nil {
			c.metrics.RecordPollTick(ctx, observe.TickThrottled)
		}
		return
	}
	c.runTick(ctx, observe.SourcePoll)
}

// runTick executes one tick body: status check, cursor comparison, and a
// full fetch-normalize-merge when the backend has advanced. Tick bodies are
// serialised so the same counter value is never fetched twice.
func (c *Controller) runTick(ctx context.Context, source string) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status, err := c.client.Status(tctx)
	if c.metrics != nil {
		c.metrics.StatusDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		c.tickFailed(ctx, source, "status", err)
		return
	}

	c.mu.Lock()
	stale := status.ExtractionCounter <= c.cursor
	c.mu.Unlock()
	if stale {
		c.recordSuccess()
		if c.metrics != nil && source == observe.SourcePoll {
			c.metrics.RecordPollTick(ctx, observe.TickNoop)
		}
		return
	}

	start = time.Now()
	update, err := c.client.Document(tctx)
	if c.metrics != nil {
		c.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		c.tickFailed(ctx, source, "document", err)
		return
	}

	res := c.store.Merge(c.norm.Normalize(update))

	c.mu.Lock()
	c.cursor = status.ExtractionCounter
	c.mu.Unlock()
	c.recordSuccess()

	if c.metrics != nil {
		c.metrics.RecordMerge(ctx, source, len(res.ChangedKeys))
		if source == observe.SourcePoll {
			c.metrics.RecordPollTick(ctx, observe.TickMerged)
		}
	}
	c.log.Info("document merged",
		"source", source,
		"cursor", status.ExtractionCounter,
		"changed_keys", res.ChangedKeys,
	)
	if c.onMerge != nil {
		c.onMerge(source, res)
	}
}

// tickFailed logs and accounts for a failed tick. Failures never abort the
// loop; the next tick retries from scratch.
func (c *Controller) tickFailed(ctx context.Context, source, op string, err error) {
	c.log.Warn("reconciliation tick failed", "source", source, "op", op, "error", err)
	if c.metrics != nil {
		c.metrics.RecordBackendError(ctx, op)
		if source == observe.SourcePoll {
			c.metrics.RecordPollTick(ctx, observe.TickFailed)
		}
	}
	c.recordFailure()
}

// recordFailure bumps the consecutive-failure count and fires the
// connectivity warning when the threshold is crossed before the push
// channel has ever delivered.
func (c *Controller) recordFailure() {
	c.mu.Lock()
	c.failures++
	warn := !c.pushHealthy && !c.warned && c.failures >= c.threshold
	if warn {
		c.warned = true
	}
	failures := c.failures
	c.mu.Unlock()

	if warn {
		c.log.Warn("extraction backend unreachable",
			"consecutive_failures", failures,
			"threshold", c.threshold,
		)
		if c.onLost != nil {
			c.onLost(failures)
		}
	}
}

// recordSuccess resets the failure count and clears a previously surfaced
// connectivity warning.
func (c *Controller) recordSuccess() {
	c.mu.Lock()
	restored := c.warned
	c.failures = 0
	c.warned = false
	c.mu.Unlock()

	if restored {
		c.log.Info("extraction backend reachable again")
		if c.onRestored != nil {
			c.onRestored()
		}
	}
}
