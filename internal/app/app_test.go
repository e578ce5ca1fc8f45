package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roledraft/roledraft/internal/config"
	"github.com/roledraft/roledraft/internal/extraction"
	extractionmock "github.com/roledraft/roledraft/internal/extraction/mock"
	"github.com/roledraft/roledraft/internal/observe"
	"github.com/roledraft/roledraft/internal/schema"
	"github.com/roledraft/roledraft/internal/transcript"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0"},
		Extraction: config.ExtractionConfig{
			BaseURL:          "http://localhost:3001",
			FastPollInterval: config.Duration(10 * time.Millisecond),
		},
		Document: config.DocumentConfig{
			HighlightDuration: config.Duration(50 * time.Millisecond),
		},
	}
}

func testApp(t *testing.T, client extraction.Client) *App {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, err := New(testConfig(), WithExtractionClient(client), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_DefaultSchema(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})
	if a.Schema().Len() == 0 {
		t.Error("default schema has no fields")
	}
	if _, ok := a.Schema().Field("title"); !ok {
		t.Error("default schema missing title field")
	}
}

func TestSubmitUserEdit(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})
	ctx := context.Background()

	t.Run("canonical key", func(t *testing.T) {
		res, err := a.SubmitUserEdit(ctx, "title", "Engineer")
		if err != nil {
			t.Fatalf("SubmitUserEdit: %v", err)
		}
		if len(res.ChangedKeys) != 1 || res.ChangedKeys[0] != "title" {
			t.Errorf("ChangedKeys = %v, want [title]", res.ChangedKeys)
		}
		if got, _ := a.Store().Get("title"); got.Text != "Engineer" {
			t.Errorf("title = %q, want Engineer", got.Text)
		}
	})

	t.Run("alias resolves", func(t *testing.T) {
		if _, err := a.SubmitUserEdit(ctx, "company_name", "Acme"); err != nil {
			t.Fatalf("SubmitUserEdit via alias: %v", err)
		}
		if got, _ := a.Store().Get("company"); got.Text != "Acme" {
			t.Errorf("company = %q, want Acme", got.Text)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := a.SubmitUserEdit(ctx, "favourite_colour", "blue")
		if !errors.Is(err, ErrUnknownField) {
			t.Errorf("error = %v, want ErrUnknownField", err)
		}
	})

	t.Run("invalid enum value", func(t *testing.T) {
		_, err := a.SubmitUserEdit(ctx, "employmentType", "Gig")
		if !errors.Is(err, ErrInvalidValue) {
			t.Errorf("error = %v, want ErrInvalidValue", err)
		}
	})
}

func TestSubmitUserEdit_PublishesEvents(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})
	ctx := context.Background()

	events, cancel := a.SubscribeEvents(ctx, 8)
	defer cancel()

	if _, err := a.SubmitUserEdit(ctx, "title", "Engineer"); err != nil {
		t.Fatalf("SubmitUserEdit: %v", err)
	}

	var got []EventType
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
			if ev.Type == EventMerge {
				if ev.Source != observe.SourceUser {
					t.Errorf("merge source = %q, want user", ev.Source)
				}
				if len(ev.Keys) != 1 || ev.Keys[0] != "title" {
					t.Errorf("merge keys = %v, want [title]", ev.Keys)
				}
			}
		case <-deadline:
			t.Fatalf("timed out; events so far: %v", got)
		}
	}

	seen := map[EventType]bool{}
	for _, typ := range got {
		seen[typ] = true
	}
	if !seen[EventHighlight] || !seen[EventMerge] {
		t.Errorf("events = %v, want highlight and merge", got)
	}
}

func TestHighlightClears(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})
	ctx := context.Background()

	events, cancel := a.SubscribeEvents(ctx, 8)
	defer cancel()

	if _, err := a.SubmitUserEdit(ctx, "title", "Engineer"); err != nil {
		t.Fatalf("SubmitUserEdit: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case EventHighlight:
				if len(a.Highlights()) == 0 {
					t.Error("Highlights() empty while highlight event active")
				}
			case EventHighlightClear:
				if len(a.Highlights()) != 0 {
					t.Errorf("Highlights() = %v after clear, want empty", a.Highlights())
				}
				return
			}
		case <-deadline:
			t.Fatal("highlight never cleared")
		}
	}
}

func TestAppendTranscript(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})
	ctx := context.Background()

	res, err := a.AppendTranscript(ctx, transcript.RoleUser, "add a salary range")
	if err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if !res.Accepted {
		t.Error("first append rejected")
	}

	// Consecutive duplicate for the same role is absorbed.
	res, err = a.AppendTranscript(ctx, transcript.RoleUser, "add a salary range")
	if err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	if res.Accepted {
		t.Error("duplicate append accepted, want rejected")
	}

	if _, err := a.AppendTranscript(ctx, transcript.Role("narrator"), "hi"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("error = %v, want ErrInvalidRole", err)
	}

	if a.Transcript().Len() != 1 {
		t.Errorf("transcript length = %d, want 1", a.Transcript().Len())
	}
}

func TestRun_BaselineAndCancel(t *testing.T) {
	client := &extractionmock.Client{
		StatusResult:   extraction.Status{ExtractionCounter: 1},
		DocumentResult: schema.FieldUpdate{"title": "Engineer"},
	}
	a := testApp(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	// Wait for the baseline merge to land.
	deadline := time.After(time.Second)
	for {
		if v, _ := a.Store().Get("title"); v.Text == "Engineer" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("baseline merge never landed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSubscribeEvents_CancelIsIdempotent(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})

	_, cancel := a.SubscribeEvents(context.Background(), 1)
	cancel()
	cancel()

	if n := a.bus.subscriberCount(); n != 0 {
		t.Errorf("subscriberCount = %d, want 0", n)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := testApp(t, &extractionmock.Client{})
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
