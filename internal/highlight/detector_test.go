package highlight

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/roledraft/roledraft/internal/document"
)

// recorder collects highlight callbacks for assertions.
type recorder struct {
	mu         sync.Mutex
	highlights [][]string
	clears     int
	cleared    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{cleared: make(chan struct{}, 8)}
}

func (r *recorder) onHighlight(keys []string) {
	r.mu.Lock()
	r.highlights = append(r.highlights, keys)
	r.mu.Unlock()
}

func (r *recorder) onClear() {
	r.mu.Lock()
	r.clears++
	r.mu.Unlock()
	r.cleared <- struct{}{}
}

func changedResult(keys ...string) document.MergeResult {
	return document.MergeResult{ChangedKeys: keys}
}

func TestObserve_FiresOncePerMerge(t *testing.T) {
	rec := newRecorder()
	d := NewDetector(Config{
		Duration:    time.Hour, // never fires during the test
		OnHighlight: rec.onHighlight,
		OnClear:     rec.onClear,
	})
	defer d.Stop()

	d.Observe(changedResult("title", "company"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.highlights) != 1 {
		t.Fatalf("got %d highlight events, want 1", len(rec.highlights))
	}
	if !slices.Equal(rec.highlights[0], []string{"title", "company"}) {
		t.Errorf("highlight keys = %v", rec.highlights[0])
	}
}

func TestObserve_IgnoresNoOpMerges(t *testing.T) {
	rec := newRecorder()
	d := NewDetector(Config{Duration: time.Hour, OnHighlight: rec.onHighlight})
	defer d.Stop()

	d.Observe(document.MergeResult{})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.highlights) != 0 {
		t.Errorf("no-op merge fired %d highlights", len(rec.highlights))
	}
}

func TestTimedReset(t *testing.T) {
	rec := newRecorder()
	d := NewDetector(Config{
		Duration:    20 * time.Millisecond,
		OnHighlight: rec.onHighlight,
		OnClear:     rec.onClear,
	})
	defer d.Stop()

	d.Observe(changedResult("title"))
	if got := d.Active(); !slices.Contains(got, "title") {
		t.Fatalf("Active = %v immediately after observe", got)
	}

	select {
	case <-rec.cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("highlight never cleared")
	}

	if got := d.Active(); len(got) != 0 {
		t.Errorf("Active = %v after reset, want empty", got)
	}
}

func TestObserve_ExtendsActiveHighlight(t *testing.T) {
	rec := newRecorder()
	d := NewDetector(Config{
		Duration:    40 * time.Millisecond,
		OnHighlight: rec.onHighlight,
		OnClear:     rec.onClear,
	})
	defer d.Stop()

	d.Observe(changedResult("title"))
	time.Sleep(20 * time.Millisecond)
	d.Observe(changedResult("company"))

	// Both keys stay active together until one shared reset fires.
	active := d.Active()
	if !slices.Contains(active, "title") || !slices.Contains(active, "company") {
		t.Errorf("Active = %v, want both keys", active)
	}

	select {
	case <-rec.cleared:
	case <-time.After(2 * time.Second):
		t.Fatal("highlight never cleared")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.clears != 1 {
		t.Errorf("clears = %d, want exactly 1 shared reset", rec.clears)
	}
	if len(rec.highlights) != 2 {
		t.Errorf("highlight events = %d, want 2 (one per merge)", len(rec.highlights))
	}
}

func TestDefaultDuration(t *testing.T) {
	d := NewDetector(Config{})
	defer d.Stop()
	if d.duration != DefaultDuration {
		t.Errorf("duration = %v, want %v", d.duration, DefaultDuration)
	}
}
