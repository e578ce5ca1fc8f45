// Package transcript keeps the append-only conversational message history
// for a session.
//
// The log is independent of the document merge path: utterances flow in
// from the voice channel's transcription events and from the assistant's
// replies, and the UI renders them as a chat history. The upstream speech
// channel redelivers identical utterances under reconnects and duplicated
// push events, so [Log.Append] is the single deduplication guard: an entry
// whose text equals the immediately preceding entry's text for the same
// role is rejected without mutation.
package transcript

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Role identifies which side of the conversation produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Entry is a single retained transcript message.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendResult reports the outcome of an [Log.Append] call. When Accepted
// is false the log was not mutated and Entry is the zero value.
type AppendResult struct {
	Accepted bool
	Entry    Entry
}

// Option is a functional option for [NewLog].
type Option func(*Log)

// WithMaxEntries caps the number of retained entries; when the cap is
// exceeded the oldest entries are dropped. Zero (the default) means
// unbounded.
func WithMaxEntries(n int) Option {
	return func(l *Log) { l.maxEntries = n }
}

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log is the append-only, deduplicated transcript history. All methods are
// safe for concurrent use.
type Log struct {
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// NewLog creates an empty Log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append adds an entry with a generated ID and the current timestamp.
// It rejects the entry — returning Accepted false and leaving the log
// untouched — when the immediately preceding entry has the same role and
// identical text, which is how redelivered utterances are absorbed.
func (l *Log) Append(role Role, text string) AppendResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if last.Role == role && last.Text == text {
			return AppendResult{}
		}
	}

	entry := Entry{
		ID:        newEntryID(),
		Role:      role,
		Text:      text,
		Timestamp: l.now(),
	}
	l.entries = append(l.entries, entry)

	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		// Drop the oldest overflow in place; the UI only renders a capped tail.
		excess := len(l.entries) - l.maxEntries
		l.entries = append(l.entries[:0], l.entries[excess:]...)
	}

	return AppendResult{Accepted: true, Entry: entry}
}

// Entries returns a copy of the retained entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// newEntryID returns a random 16-hex-character entry identifier.
func newEntryID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic("transcript: rand.Read: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
