// Package app wires all roledraft subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the reconciliation loop and push listener, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithExtractionClient, WithMetrics, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roledraft/roledraft/internal/config"
	"github.com/roledraft/roledraft/internal/document"
	"github.com/roledraft/roledraft/internal/extraction"
	"github.com/roledraft/roledraft/internal/highlight"
	"github.com/roledraft/roledraft/internal/normalize"
	"github.com/roledraft/roledraft/internal/observe"
	"github.com/roledraft/roledraft/internal/reconcile"
	"github.com/roledraft/roledraft/internal/resilience"
	"github.com/roledraft/roledraft/internal/schema"
	"github.com/roledraft/roledraft/internal/transcript"
)

// Errors returned by App operations.
var (
	// ErrUnknownField is returned by SubmitUserEdit when the field name does
	// not resolve to any schema key or alias.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidValue is returned by SubmitUserEdit when the value cannot be
	// coerced to the field's kind (e.g. an enum value outside its set).
	ErrInvalidValue = errors.New("invalid value for field")

	// ErrInvalidRole is returned by AppendTranscript for an unrecognised role.
	ErrInvalidRole = errors.New("invalid transcript role")
)

// App owns all subsystem lifetimes and orchestrates document reconciliation.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	schema   *schema.Schema
	store    *document.Store
	norm     *normalize.Normalizer
	detector *highlight.Detector
	log      *transcript.Log
	client   extraction.Client
	ctrl     *reconcile.Controller
	push     *extraction.PushListener
	metrics  *observe.Metrics
	bus      *eventBus

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithExtractionClient injects a backend client instead of creating the HTTP
// client from config.
func WithExtractionClient(c extraction.Client) Option {
	return func(a *App) { a.client = c }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSchema injects a field schema instead of loading one from config.
func WithSchema(s *schema.Schema) Option {
	return func(a *App) { a.schema = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		bus: newEventBus(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Field schema ──────────────────────────────────────────────────
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("app: init schema: %w", err)
	}

	// ── 2. Document store + normalizer ───────────────────────────────────
	a.store = document.NewStore(a.schema)
	a.norm = normalize.New(a.schema)

	// ── 3. Highlight detector ────────────────────────────────────────────
	a.detector = highlight.NewDetector(highlight.Config{
		Duration: a.cfg.Document.HighlightDuration.Std(),
		OnHighlight: func(keys []string) {
			a.bus.publish(Event{Type: EventHighlight, Keys: keys})
		},
		OnClear: func() {
			a.bus.publish(Event{Type: EventHighlightClear})
		},
	})
	a.closers = append(a.closers, func() error {
		a.detector.Stop()
		return nil
	})

	// ── 4. Transcript log ────────────────────────────────────────────────
	a.log = transcript.NewLog(transcript.WithMaxEntries(a.cfg.Transcript.MaxEntries))

	// ── 5. Extraction client ─────────────────────────────────────────────
	if a.client == nil {
		if err := a.initClient(); err != nil {
			return nil, fmt.Errorf("app: init extraction client: %w", err)
		}
	}

	// ── 6. Reconciliation controller ─────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 7. Push listener ─────────────────────────────────────────────────
	if err := a.initPushListener(); err != nil {
		return nil, fmt.Errorf("app: init push listener: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSchema loads the field schema from config or falls back to the
// compiled-in default.
func (a *App) initSchema() error {
	if a.schema != nil {
		return nil // injected
	}
	if path := a.cfg.Document.SchemaFile; path != "" {
		s, err := schema.Load(path)
		if err != nil {
			return err
		}
		a.schema = s
		slog.Info("loaded field schema", "path", path, "fields", s.Len())
		return nil
	}
	a.schema = schema.Default()
	return nil
}

// initClient builds the backend client from config. With fallback URLs
// configured, the replicas are stacked behind a failover client so a dead
// primary is skipped instead of failing every tick.
func (a *App) initClient() error {
	primary := extraction.NewHTTPClient(a.cfg.Extraction.BaseURL)
	if len(a.cfg.Extraction.FallbackURLs) == 0 {
		a.client = primary
		return nil
	}

	endpoints := []resilience.Endpoint{{Name: a.cfg.Extraction.BaseURL, Client: primary}}
	for _, raw := range a.cfg.Extraction.FallbackURLs {
		endpoints = append(endpoints, resilience.Endpoint{
			Name:   raw,
			Client: extraction.NewHTTPClient(raw),
		})
	}
	failover, err := resilience.NewFailover(resilience.BreakerConfig{}, endpoints...)
	if err != nil {
		return err
	}
	a.client = failover
	slog.Info("backend failover enabled", "endpoints", len(endpoints))
	return nil
}

// initController builds the reconciliation controller and routes its
// callbacks onto the event bus.
func (a *App) initController() error {
	ctrl, err := reconcile.New(reconcile.Config{
		Client:           a.client,
		Normalizer:       a.norm,
		Store:            a.store,
		FastInterval:     a.cfg.Extraction.FastPollInterval.Std(),
		SlowInterval:     a.cfg.Extraction.SlowPollInterval.Std(),
		Throttle:         a.cfg.Extraction.ThrottleFraction,
		TickTimeout:      a.cfg.Extraction.RequestTimeout.Std(),
		FailureThreshold: a.cfg.Extraction.FailureThreshold,
		Metrics:          a.metrics,
		OnMerge:          a.afterMerge,
		OnConnectivityLost: func(consecutive int) {
			a.bus.publish(Event{Type: EventConnectivity, Status: ConnectivityLost})
		},
		OnConnectivityRestored: func() {
			a.bus.publish(Event{Type: EventConnectivity, Status: ConnectivityRestored})
		},
	})
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	a.closers = append(a.closers, func() error {
		ctrl.Stop()
		return nil
	})
	return nil
}

// initPushListener builds the WebSocket push listener when a push URL is
// configured. Without one, polling alone keeps the document converging.
func (a *App) initPushListener() error {
	if a.cfg.Extraction.PushURL == "" {
		slog.Info("push channel disabled, polling stays at the fast interval")
		return nil
	}
	listener, err := extraction.NewPushListener(extraction.PushListenerConfig{
		URL: a.cfg.Extraction.PushURL,
		OnEvent: func(ctx context.Context, ev extraction.PushEvent) {
			a.ctrl.HandlePushEvent(ctx, ev)
		},
	})
	if err != nil {
		return err
	}
	a.push = listener
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the reconciliation loop and, when configured, the push listener.
// It blocks until ctx is cancelled and returns the context's error.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ctrl.Run(ctx)
	})
	if a.push != nil {
		g.Go(func() error {
			return a.push.Run(ctx)
		})
	}

	slog.Info("app running",
		"backend", a.cfg.Extraction.BaseURL,
		"push", a.push != nil,
		"fields", a.schema.Len(),
	)
	return g.Wait()
}

// ─── Operations ──────────────────────────────────────────────────────────────

// SubmitUserEdit applies a manual field edit from the UI. The field name is
// resolved against the schema (aliases and naming-convention folding apply),
// the value is coerced to the field's kind, and the result is merged with
// last-write-wins semantics just like backend updates.
func (a *App) SubmitUserEdit(ctx context.Context, field string, value any) (document.MergeResult, error) {
	f, ok := a.schema.Resolve(field)
	if !ok {
		return document.MergeResult{}, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	patch := a.norm.Normalize(schema.FieldUpdate{f.Key: value})
	if _, ok := patch[f.Key]; !ok {
		return document.MergeResult{}, fmt.Errorf("%w %q", ErrInvalidValue, f.Key)
	}

	res := a.store.Merge(patch)
	a.metrics.RecordMerge(ctx, observe.SourceUser, len(res.ChangedKeys))
	a.afterMerge(observe.SourceUser, res)
	return res, nil
}

// AppendTranscript records one conversation turn. Consecutive duplicates per
// role are rejected; the result reports whether the entry was accepted.
func (a *App) AppendTranscript(ctx context.Context, role transcript.Role, text string) (transcript.AppendResult, error) {
	if !role.IsValid() {
		return transcript.AppendResult{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	res := a.log.Append(role, text)
	a.metrics.RecordTranscriptAppend(ctx, res.Accepted)
	if res.Accepted {
		a.bus.publish(Event{Type: EventTranscript, Entry: &res.Entry})
	}
	return res, nil
}

// SubscribeEvents registers a UI event-stream subscriber. The returned cancel
// function must be called when the subscriber disconnects.
func (a *App) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	ch, cancel := a.bus.subscribe(buffer)
	a.metrics.EventStreamClients.Add(ctx, 1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			a.metrics.EventStreamClients.Add(context.Background(), -1)
		})
	}
}

// afterMerge routes every merge through the highlight detector and, when the
// merge changed anything, publishes a merge event.
func (a *App) afterMerge(source string, res document.MergeResult) {
	a.detector.Observe(res)
	if res.Changed() {
		a.bus.publish(Event{Type: EventMerge, Source: source, Keys: res.ChangedKeys})
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the document store.
func (a *App) Store() *document.Store { return a.store }

// Schema returns the active field schema.
func (a *App) Schema() *schema.Schema { return a.schema }

// Transcript returns the conversation transcript log.
func (a *App) Transcript() *transcript.Log { return a.log }

// Highlights returns the currently highlighted field keys.
func (a *App) Highlights() []string { return a.detector.Active() }

// SetHighlightDuration changes the highlight window at runtime. Used by the
// config watcher for hot reloads.
func (a *App) SetHighlightDuration(d time.Duration) { a.detector.SetDuration(d) }

// Client returns the extraction backend client, for readiness checks.
func (a *App) Client() extraction.Client { return a.client }

// Controller returns the reconciliation controller.
func (a *App) Controller() *reconcile.Controller { return a.ctrl }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
