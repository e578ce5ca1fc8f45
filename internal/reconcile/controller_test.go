package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roledraft/roledraft/internal/document"
	"github.com/roledraft/roledraft/internal/extraction"
	extractionmock "github.com/roledraft/roledraft/internal/extraction/mock"
	"github.com/roledraft/roledraft/internal/normalize"
	"github.com/roledraft/roledraft/internal/observe"
	"github.com/roledraft/roledraft/internal/schema"
)

func testController(t *testing.T, cfg Config) (*Controller, *document.Store) {
	t.Helper()
	s := schema.Default()
	store := document.NewStore(s)
	cfg.Normalizer = normalize.New(s, normalize.WithLogger(discardLogger()))
	cfg.Store = store
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_RequiresDependencies(t *testing.T) {
	s := schema.Default()
	base := Config{
		Client:     &extractionmock.Client{},
		Normalizer: normalize.New(s),
		Store:      document.NewStore(s),
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing client", func(c *Config) { c.Client = nil }},
		{"missing normalizer", func(c *Config) { c.Normalizer = nil }},
		{"missing store", func(c *Config) { c.Store = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() error = nil, want non-nil")
			}
		})
	}

	if _, err := New(base); err != nil {
		t.Errorf("New() with all dependencies error = %v", err)
	}
}

func TestController_BaselineMergesUnconditionally(t *testing.T) {
	client := &extractionmock.Client{
		StatusResult:   extraction.Status{HasNewExtraction: false, ExtractionCounter: 5},
		DocumentResult: schema.FieldUpdate{"title": "Engineer"},
	}
	c, store := testController(t, Config{Client: client})

	c.baseline(context.Background())

	if got, _ := store.Get("title"); got.Text != "Engineer" {
		t.Errorf("title = %q, want %q", got.Text, "Engineer")
	}
	if c.Cursor() != 5 {
		t.Errorf("Cursor() = %d, want 5", c.Cursor())
	}
	if n := client.CallCount("Document"); n != 1 {
		t.Errorf("Document calls = %d, want 1", n)
	}
}

func TestController_TickSkipsFetchWhenCounterUnchanged(t *testing.T) {
	client := &extractionmock.Client{
		StatusResult:   extraction.Status{ExtractionCounter: 5},
		DocumentResult: schema.FieldUpdate{"title": "Engineer"},
	}
	c, _ := testController(t, Config{Client: client})

	c.baseline(context.Background())
	client.Reset()

	// Counter still at 5: the tick must not fetch.
	c.runTick(context.Background(), observe.SourcePoll)

	if n := client.CallCount("Status"); n != 1 {
		t.Errorf("Status calls = %d, want 1", n)
	}
	if n := client.CallCount("Document"); n != 0 {
		t.Errorf("Document calls = %d, want 0", n)
	}
}

func TestController_TickFetchesWhenCounterAdvances(t *testing.T) {
	var counter atomic.Int64
	counter.Store(1)
	client := &extractionmock.Client{
		StatusFunc: func(ctx context.Context) (extraction.Status, error) {
			return extraction.Status{HasNewExtraction: true, ExtractionCounter: counter.Load()}, nil
		},
		DocumentResult: schema.FieldUpdate{"title": "Engineer", "company": "Acme"},
	}
	var merges []string
	c, store := testController(t, Config{
		Client: client,
		OnMerge: func(source string, res document.MergeResult) {
			merges = append(merges, source)
		},
	})

	c.baseline(context.Background())
	if c.Cursor() != 1 {
		t.Fatalf("cursor after baseline = %d, want 1", c.Cursor())
	}

	counter.Store(2)
	client.DocumentResult = schema.FieldUpdate{"title": "Senior Engineer", "company": "Acme"}
	c.runTick(context.Background(), observe.SourcePoll)

	if c.Cursor() != 2 {
		t.Errorf("Cursor() = %d, want 2", c.Cursor())
	}
	if got, _ := store.Get("title"); got.Text != "Senior Engineer" {
		t.Errorf("title = %q, want %q", got.Text, "Senior Engineer")
	}
	want := []string{"baseline", "poll"}
	if len(merges) != len(want) || merges[0] != want[0] || merges[1] != want[1] {
		t.Errorf("merge sources = %v, want %v", merges, want)
	}

	// Same counter again: idempotent, no further fetch.
	docCalls := client.CallCount("Document")
	c.runTick(context.Background(), observe.SourcePoll)
	if n := client.CallCount("Document"); n != docCalls {
		t.Errorf("Document calls = %d, want %d", n, docCalls)
	}
}

func TestController_PushEventIsHintOnly(t *testing.T) {
	client := &extractionmock.Client{
		StatusResult:   extraction.Status{ExtractionCounter: 1},
		DocumentResult: schema.FieldUpdate{"title": "Engineer"},
	}
	c, store := testController(t, Config{Client: client})

	c.baseline(context.Background())
	client.Reset()

	// The pushed field name must never be merged directly.
	c.HandlePushEvent(context.Background(), extraction.PushEvent{
		Type:      extraction.EventDataUpdate,
		FieldName: "company",
	})

	if !c.PushHealthy() {
		t.Error("PushHealthy() = false, want true")
	}
	if n := client.CallCount("Status"); n != 1 {
		t.Errorf("Status calls = %d, want 1", n)
	}
	// Counter unchanged, so no fetch despite the push hint.
	if n := client.CallCount("Document"); n != 0 {
		t.Errorf("Document calls = %d, want 0", n)
	}
	if got, _ := store.Get("company"); got.Text != "" {
		t.Errorf("company = %q, want empty", got.Text)
	}
}

func TestController_PushHealthySwitchesInterval(t *testing.T) {
	client := &extractionmock.Client{}
	c, _ := testController(t, Config{
		Client:       client,
		FastInterval: 2 * time.Second,
		SlowInterval: 5 * time.Second,
	})

	if got := c.interval(); got != 2*time.Second {
		t.Errorf("interval() = %v, want 2s", got)
	}

	c.HandlePushEvent(context.Background(), extraction.PushEvent{Type: extraction.EventExtractionComplete})

	if got := c.interval(); got != 5*time.Second {
		t.Errorf("interval() = %v, want 5s", got)
	}

	// The flag is one-way: nothing flips it back.
	c.runTick(context.Background(), observe.SourcePoll)
	if !c.PushHealthy() {
		t.Error("PushHealthy() reverted, want one-way flag")
	}
}

func TestController_ThrottleSkipsTickBody(t *testing.T) {
	client := &extractionmock.Client{}
	throttleRoll := 0.99
	c, _ := testController(t, Config{
		Client:   client,
		Throttle: 0.2,
		Rand:     func() float64 { return throttleRoll },
	})

	// Before push health, ticks always execute regardless of the roll.
	c.pollTick(context.Background())
	if n := client.CallCount("Status"); n != 1 {
		t.Fatalf("Status calls = %d, want 1", n)
	}

	c.HandlePushEvent(context.Background(), extraction.PushEvent{Type: extraction.EventExtractionComplete})
	client.Reset()

	c.pollTick(context.Background())
	if n := client.CallCount("Status"); n != 0 {
		t.Errorf("Status calls after throttled tick = %d, want 0", n)
	}

	// A roll under the throttle fraction still executes the safety-net poll.
	throttleRoll = 0.1
	c.pollTick(context.Background())
	if n := client.CallCount("Status"); n != 1 {
		t.Errorf("Status calls after executed tick = %d, want 1", n)
	}
}

func TestController_ConnectivityWarning(t *testing.T) {
	client := &extractionmock.Client{
		StatusErr: errors.New("connection refused"),
	}
	var lost, restored atomic.Int32
	var lostWith atomic.Int32
	c, _ := testController(t, Config{
		Client:           client,
		FailureThreshold: 3,
		OnConnectivityLost: func(consecutive int) {
			lost.Add(1)
			lostWith.Store(int32(consecutive))
		},
		OnConnectivityRestored: func() { restored.Add(1) },
	})

	for range 5 {
		c.runTick(context.Background(), observe.SourcePoll)
	}

	if got := lost.Load(); got != 1 {
		t.Errorf("OnConnectivityLost calls = %d, want 1", got)
	}
	if got := lostWith.Load(); got != 3 {
		t.Errorf("consecutive failures at warning = %d, want 3", got)
	}

	client.StatusErr = nil
	client.StatusResult = extraction.Status{ExtractionCounter: 0}
	c.runTick(context.Background(), observe.SourcePoll)

	if got := restored.Load(); got != 1 {
		t.Errorf("OnConnectivityRestored calls = %d, want 1", got)
	}

	// Failures after recovery start a fresh count below the threshold.
	client.StatusErr = errors.New("connection refused")
	c.runTick(context.Background(), observe.SourcePoll)
	c.runTick(context.Background(), observe.SourcePoll)
	if got := lost.Load(); got != 1 {
		t.Errorf("OnConnectivityLost calls after partial failures = %d, want 1", got)
	}
}

func TestController_FetchFailureDoesNotAdvanceCursor(t *testing.T) {
	client := &extractionmock.Client{
		StatusResult: extraction.Status{ExtractionCounter: 7},
		DocumentErr:  errors.New("boom"),
	}
	c, _ := testController(t, Config{Client: client})

	c.runTick(context.Background(), observe.SourcePoll)

	if c.Cursor() != 0 {
		t.Errorf("Cursor() = %d, want 0 after failed fetch", c.Cursor())
	}

	// Recovery: the same counter is fetched on the next tick.
	client.DocumentErr = nil
	client.DocumentResult = schema.FieldUpdate{"title": "Engineer"}
	c.runTick(context.Background(), observe.SourcePoll)
	if c.Cursor() != 7 {
		t.Errorf("Cursor() = %d, want 7 after recovery", c.Cursor())
	}
}

func TestController_RunStopsOnContextCancel(t *testing.T) {
	client := &extractionmock.Client{}
	c, _ := testController(t, Config{
		Client:       client,
		FastInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	// Let the baseline and at least one tick happen.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancellation")
	}

	if n := client.CallCount("Status"); n < 2 {
		t.Errorf("Status calls = %d, want at least 2 (baseline + tick)", n)
	}
}

func TestController_RunStopsOnStop(t *testing.T) {
	client := &extractionmock.Client{}
	c, _ := testController(t, Config{
		Client:       client,
		FastInterval: 10 * time.Millisecond,
	})

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	c.Stop()
	c.Stop() // idempotent

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Stop")
	}
}
