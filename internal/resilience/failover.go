package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roledraft/roledraft/internal/extraction"
	"github.com/roledraft/roledraft/internal/schema"
)

// ErrAllEndpointsFailed is returned when every endpoint in a [Failover]
// fails or sits behind an open breaker.
var ErrAllEndpointsFailed = errors.New("all backend endpoints failed")

// Endpoint names one backend replica for a [Failover].
type Endpoint struct {
	Name   string
	Client extraction.Client
}

type failoverEntry struct {
	name    string
	client  extraction.Client
	breaker *Breaker
}

// Failover is an [extraction.Client] that fans requests across several
// backend replicas. Endpoints are tried in registration order; an endpoint
// whose breaker is open is skipped. The first success wins, so the primary
// is always preferred while healthy.
type Failover struct {
	entries []failoverEntry
}

// Compile-time check that Failover satisfies the client interface.
var _ extraction.Client = (*Failover)(nil)

// NewFailover creates a Failover over the given endpoints. Each endpoint
// gets its own breaker derived from cfg. At least one endpoint is required.
func NewFailover(cfg BreakerConfig, endpoints ...Endpoint) (*Failover, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("resilience: at least one endpoint is required")
	}
	f := &Failover{entries: make([]failoverEntry, 0, len(endpoints))}
	for _, ep := range endpoints {
		if ep.Client == nil {
			return nil, fmt.Errorf("resilience: endpoint %q has no client", ep.Name)
		}
		bcfg := cfg
		bcfg.Name = ep.Name
		f.entries = append(f.entries, failoverEntry{
			name:    ep.Name,
			client:  ep.Client,
			breaker: NewBreaker(bcfg),
		})
	}
	return f, nil
}

// Status asks each healthy endpoint in order until one answers.
func (f *Failover) Status(ctx context.Context) (extraction.Status, error) {
	return attempt(f, ctx, "status", extraction.Client.Status)
}

// Document fetches the field snapshot from the first healthy endpoint.
func (f *Failover) Document(ctx context.Context) (schema.FieldUpdate, error) {
	return attempt(f, ctx, "document", extraction.Client.Document)
}

// attempt walks the endpoint list until fn succeeds. Package-level because
// methods cannot carry type parameters.
func attempt[R any](f *Failover, ctx context.Context, op string, fn func(extraction.Client, context.Context) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range f.entries {
		entry := &f.entries[i]

		var result R
		err := entry.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(entry.client, ctx)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping endpoint, breaker open", "endpoint", entry.name, "op", op)
			continue
		}
		// A canceled context fails every remaining endpoint too; bail out.
		if ctx.Err() != nil {
			return zero, err
		}
		slog.Warn("endpoint failed, trying next", "endpoint", entry.name, "op", op, "err", err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllEndpointsFailed, lastErr)
}
