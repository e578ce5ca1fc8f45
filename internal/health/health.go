// Package health serves liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered [Checker] passes,
//     and 503 otherwise.
//
// Both respond with a JSON body carrying a "status" field ("ok" or
// "fail"); /readyz additionally lists each check's outcome under "checks".
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/roledraft/roledraft/internal/extraction"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named probe of one dependency. Check returns nil while the
// dependency is usable and must respect context cancellation.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// BackendChecker probes the extraction backend's status endpoint. The push
// channel is deliberately not part of readiness: polling alone keeps the
// document converging, so a silent push socket must not fail the probe.
func BackendChecker(client extraction.Client) Checker {
	return Checker{
		Name: "extraction_backend",
		Check: func(ctx context.Context) error {
			if _, err := client.Status(ctx); err != nil {
				return fmt.Errorf("status endpoint: %w", err)
			}
			return nil
		},
	}
}

// report is the JSON body of both probe responses.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. The checker list is fixed at
// construction, which makes the handler safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler that runs the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe. Reaching it at all is the signal, so it
// unconditionally reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe. Every checker runs under a [checkTimeout]
// deadline derived from the request context; one failure turns the whole
// response into a 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes, healthy := h.runChecks(r.Context())

	rep := report{Status: "ok", Checks: outcomes}
	code := http.StatusOK
	if !healthy {
		rep.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	respond(w, code, rep)
}

func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	outcomes := make(map[string]string, len(h.checkers))
	healthy := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			outcomes[c.Name] = "fail: " + err.Error()
			healthy = false
			continue
		}
		outcomes[c.Name] = "ok"
	}
	return outcomes, healthy
}

func respond(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
