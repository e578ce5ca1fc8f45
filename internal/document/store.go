// Package document holds the canonical job-description document and exposes
// the single merge entry point that all update sources share.
//
// The document is the one shared mutable resource in the system: the user's
// form edits, the polling adapter, and the push-event adapter all funnel
// their normalized patches through [Store.Merge]. Merge is a shallow per-key
// overwrite executed atomically under a mutex, so concurrent readers never
// observe a half-applied patch, and re-applying an identical patch is a
// harmless no-op. Conflict resolution is last write wins per key, regardless
// of which source produced the write.
package document

import (
	"sync"

	"github.com/roledraft/roledraft/internal/schema"
)

// Document is a snapshot of the canonical field values. Keys are exactly
// the schema's canonical key set. Snapshots are deep copies — mutating one
// never affects the store.
type Document map[string]schema.Value

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// MergeResult describes one completed merge: which keys meaningfully
// changed, and the document before and after. ChangedKeys follows the
// schema's declaration order. A key counts as changed only when its new
// value is set (non-empty) and differs from the previous value — overwriting
// an empty field with another empty value is suppressed as churn.
type MergeResult struct {
	ChangedKeys []string
	Previous    Document
	Current     Document
}

// Changed reports whether the merge changed at least one key.
func (r MergeResult) Changed() bool { return len(r.ChangedKeys) > 0 }

// Subscriber receives one call per merge, in merge order.
type Subscriber func(MergeResult)

// Store owns the canonical document. All methods are safe for concurrent
// use. The zero value is not usable; create stores with [NewStore].
type Store struct {
	schema *schema.Schema

	mu        sync.Mutex
	doc       Document
	collected map[string]struct{} // keys that have ever received a real value

	subMu sync.RWMutex
	subs  []Subscriber
}

// NewStore creates a Store with every field initialised to its unset value
// (or its schema default, for fields that declare one).
func NewStore(s *schema.Schema) *Store {
	doc := make(Document, s.Len())
	for _, key := range s.Keys() {
		f, _ := s.Field(key)
		switch f.Kind {
		case schema.KindList:
			doc[key] = schema.ListValue(nil)
		default:
			doc[key] = schema.ScalarValue(f.Default)
		}
	}
	return &Store{
		schema:    s,
		doc:       doc,
		collected: make(map[string]struct{}, s.Len()),
	}
}

// Merge applies patch as a shallow per-key overwrite and returns the result.
// Keys absent from the patch are untouched; keys outside the schema are
// ignored. Applying the same patch twice yields the same document, and the
// second application reports no changed keys.
//
// Subscribers are notified synchronously after the write lock is released,
// once per merge, in subscription order.
func (st *Store) Merge(patch schema.Patch) MergeResult {
	st.mu.Lock()

	previous := st.doc.Clone()
	var changed []string

	// Iterate in schema order so ChangedKeys is deterministic.
	for _, key := range st.schema.Keys() {
		value, ok := patch[key]
		if !ok {
			continue
		}
		old := st.doc[key]
		st.doc[key] = value.Clone()
		if !value.IsZero() {
			st.collected[key] = struct{}{}
			if !value.Equal(old) {
				changed = append(changed, key)
			}
		}
	}

	result := MergeResult{
		ChangedKeys: changed,
		Previous:    previous,
		Current:     st.doc.Clone(),
	}
	st.mu.Unlock()

	st.notify(result)
	return result
}

// Snapshot returns a deep copy of the current document.
func (st *Store) Snapshot() Document {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.doc.Clone()
}

// Get returns the current value for a canonical key.
func (st *Store) Get(key string) (schema.Value, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := st.doc[key]
	if !ok {
		return schema.Value{}, false
	}
	return v.Clone(), true
}

// CollectedKeys returns the canonical keys that have received a real
// (non-empty) value at least once, in schema order.
func (st *Store) CollectedKeys() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]string, 0, len(st.collected))
	for _, key := range st.schema.Keys() {
		if _, ok := st.collected[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// MissingKeys returns the canonical keys that have never received a real
// value, in schema order.
func (st *Store) MissingKeys() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]string, 0, st.schema.Len()-len(st.collected))
	for _, key := range st.schema.Keys() {
		if _, ok := st.collected[key]; !ok {
			keys = append(keys, key)
		}
	}
	return keys
}

// Complete reports whether every canonical key has been collected.
func (st *Store) Complete() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.collected) == st.schema.Len()
}

// Subscribe registers fn to be invoked once per merge with the merge's
// result. Subscribers cannot be removed; they live for the session, like
// the store itself.
func (st *Store) Subscribe(fn Subscriber) {
	st.subMu.Lock()
	defer st.subMu.Unlock()
	st.subs = append(st.subs, fn)
}

// notify fans a merge result out to all subscribers.
func (st *Store) notify(result MergeResult) {
	st.subMu.RLock()
	subs := st.subs
	st.subMu.RUnlock()
	for _, fn := range subs {
		fn(result)
	}
}
