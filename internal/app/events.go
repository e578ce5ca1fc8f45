package app

import (
	"sync"

	"github.com/roledraft/roledraft/internal/transcript"
)

// EventType identifies a UI event on the event stream.
type EventType string

const (
	// EventMerge is published after a merge that changed at least one field.
	EventMerge EventType = "merge"

	// EventHighlight is published when changed fields start highlighting.
	EventHighlight EventType = "highlight"

	// EventHighlightClear is published when the highlight window elapses.
	EventHighlightClear EventType = "highlight-clear"

	// EventTranscript is published for every accepted transcript entry.
	EventTranscript EventType = "transcript"

	// EventConnectivity is published when the extraction backend becomes
	// unreachable or reachable again.
	EventConnectivity EventType = "connectivity"
)

// Connectivity statuses carried by EventConnectivity events.
const (
	ConnectivityLost     = "lost"
	ConnectivityRestored = "restored"
)

// Event is a single message on the UI event stream. Fields other than Type
// are populated depending on the event type.
type Event struct {
	Type EventType `json:"type"`

	// Source is the merge source ("baseline", "poll", "push", "user").
	// Set for merge events.
	Source string `json:"source,omitempty"`

	// Keys carries the changed keys of a merge event or the active set of a
	// highlight event.
	Keys []string `json:"keys,omitempty"`

	// Entry is the accepted transcript entry of a transcript event.
	Entry *transcript.Entry `json:"entry,omitempty"`

	// Status is the connectivity status of a connectivity event.
	Status string `json:"status,omitempty"`
}

// eventBus fans Events out to any number of subscribers. Slow subscribers
// have events dropped rather than blocking the publisher; the UI re-reads
// full state over HTTP, so a dropped event costs freshness, not correctness.
type eventBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]chan Event)}
}

// publish delivers ev to all current subscribers without blocking.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}

// subscribe registers a new subscriber with the given channel buffer and
// returns its channel plus a cancel function. Cancel closes the channel.
func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// subscriberCount returns the number of active subscribers.
func (b *eventBus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
