// Package highlight turns merge results into the UI's "live update" signal.
//
// Whenever a merge actually changes the document, the [Detector] fires one
// highlight event covering that merge's full changed-key set — a multi-field
// patch highlights all of its fields together rather than one at a time.
// The highlight clears itself after a fixed duration via a deferred timer;
// observing another change while a highlight is active extends the window.
package highlight

import (
	"sync"
	"time"

	"github.com/roledraft/roledraft/internal/document"
)

// DefaultDuration is how long a highlight stays active before the timed
// reset clears it.
const DefaultDuration = 3 * time.Second

// Config configures a [Detector]. OnHighlight and OnClear may be nil.
type Config struct {
	// Duration is how long highlights stay active. Defaults to
	// [DefaultDuration] if zero.
	Duration time.Duration

	// OnHighlight is invoked once per observed merge that changed at least
	// one key, with that merge's changed-key set.
	OnHighlight func(keys []string)

	// OnClear is invoked when the timed reset fires and the active
	// highlight set empties.
	OnClear func()
}

// Detector watches merge results and manages the active highlight set.
// All methods are safe for concurrent use.
type Detector struct {
	duration    time.Duration
	onHighlight func(keys []string)
	onClear     func()

	mu     sync.Mutex
	active map[string]struct{}
	timer  *time.Timer
}

// NewDetector creates a Detector from cfg.
func NewDetector(cfg Config) *Detector {
	d := &Detector{
		duration:    cfg.Duration,
		onHighlight: cfg.OnHighlight,
		onClear:     cfg.OnClear,
		active:      make(map[string]struct{}),
	}
	if d.duration <= 0 {
		d.duration = DefaultDuration
	}
	return d
}

// Observe inspects a merge result and, when the merge changed anything,
// activates a highlight for its changed keys and (re)arms the reset timer.
// Merges that changed nothing are ignored — no signal, no timer reset.
func (d *Detector) Observe(res document.MergeResult) {
	if !res.Changed() {
		return
	}

	d.mu.Lock()
	for _, key := range res.ChangedKeys {
		d.active[key] = struct{}{}
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, d.clear)
	d.mu.Unlock()

	if d.onHighlight != nil {
		keys := make([]string, len(res.ChangedKeys))
		copy(keys, res.ChangedKeys)
		d.onHighlight(keys)
	}
}

// SetDuration changes how long future highlights stay active. An already
// armed reset timer keeps its original deadline.
func (d *Detector) SetDuration(dur time.Duration) {
	if dur <= 0 {
		dur = DefaultDuration
	}
	d.mu.Lock()
	d.duration = dur
	d.mu.Unlock()
}

// Active returns the currently highlighted keys. Order is not specified.
func (d *Detector) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]string, 0, len(d.active))
	for key := range d.active {
		keys = append(keys, key)
	}
	return keys
}

// Stop cancels any pending reset timer. The active set is left as-is;
// Stop is for teardown, not for clearing highlights.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// clear empties the active set when the reset timer fires.
func (d *Detector) clear() {
	d.mu.Lock()
	wasActive := len(d.active) > 0
	d.active = make(map[string]struct{})
	d.timer = nil
	d.mu.Unlock()

	if wasActive && d.onClear != nil {
		d.onClear()
	}
}
