// Package mock provides a configurable test double for the extraction
// backend client.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	client := &mock.Client{}
//	client.StatusResult = extraction.Status{ExtractionCounter: 3}
//	client.DocumentResult = schema.FieldUpdate{"title": "Engineer"}
//
//	// inject client into the system under test …
//
//	if got := client.CallCount("Document"); got != 1 {
//	    t.Errorf("expected 1 Document call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/roledraft/roledraft/internal/extraction"
	"github.com/roledraft/roledraft/internal/schema"
)

// Compile-time assertion that Client satisfies extraction.Client.
var _ extraction.Client = (*Client)(nil)

// Call records the name of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string
}

// Client is a configurable test double for [extraction.Client].
type Client struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// StatusResult is returned by [Client.Status].
	StatusResult extraction.Status

	// StatusErr is returned by [Client.Status] when non-nil.
	StatusErr error

	// StatusFunc, when non-nil, overrides StatusResult/StatusErr entirely.
	// Useful for scripting a sequence of statuses across calls.
	StatusFunc func(ctx context.Context) (extraction.Status, error)

	// DocumentResult is returned by [Client.Document]. When nil, Document
	// returns an empty non-nil update.
	DocumentResult schema.FieldUpdate

	// DocumentErr is returned by [Client.Document] when non-nil.
	DocumentErr error

	// DocumentFunc, when non-nil, overrides DocumentResult/DocumentErr.
	DocumentFunc func(ctx context.Context) (schema.FieldUpdate, error)
}

// Status implements [extraction.Client].
func (c *Client) Status(ctx context.Context) (extraction.Status, error) {
	c.record("Status")
	if c.StatusFunc != nil {
		return c.StatusFunc(ctx)
	}
	if c.StatusErr != nil {
		return extraction.Status{}, c.StatusErr
	}
	return c.StatusResult, nil
}

// Document implements [extraction.Client].
func (c *Client) Document(ctx context.Context) (schema.FieldUpdate, error) {
	c.record("Document")
	if c.DocumentFunc != nil {
		return c.DocumentFunc(ctx)
	}
	if c.DocumentErr != nil {
		return nil, c.DocumentErr
	}
	if c.DocumentResult == nil {
		return schema.FieldUpdate{}, nil
	}
	return c.DocumentResult, nil
}

// Calls returns a copy of all recorded method invocations.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// Reset clears the recorded call history.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func (c *Client) record(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method})
}
