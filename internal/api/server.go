// Package api exposes the UI-facing HTTP surface: document state, manual
// field edits, the conversation transcript, and a WebSocket event stream.
//
// Response bodies follow the extraction backend's envelope convention — a
// top-level "success" flag with an "error" string on failure — so the UI can
// share its response handling between the two services.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roledraft/roledraft/internal/app"
	"github.com/roledraft/roledraft/internal/health"
	"github.com/roledraft/roledraft/internal/observe"
	"github.com/roledraft/roledraft/internal/schema"
	"github.com/roledraft/roledraft/internal/transcript"
)

// maxBodyBytes caps request bodies; field edits and transcript turns are
// small.
const maxBodyBytes = 1 << 20

// Server serves the UI API. Create with [New], mount via [Server.Handler].
type Server struct {
	app     *app.App
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// Config configures a [Server].
type Config struct {
	// App is the application core. Required.
	App *app.App

	// Health serves /healthz and /readyz. When nil, a handler with a
	// backend readiness check is created from App.
	Health *health.Handler

	// Metrics instruments the HTTP surface. Defaults to the global metrics.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a Server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("api: App is required")
	}
	s := &Server{
		app:     cfg.App,
		health:  cfg.Health,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}
	if s.health == nil {
		s.health = health.New(health.BackendChecker(cfg.App.Client()))
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/document", s.handleDocument)
	mux.HandleFunc("PUT /api/document/fields/{key}", s.handleFieldEdit)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("POST /api/transcript", s.handleTranscriptAppend)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// ─── Document ────────────────────────────────────────────────────────────────

// documentResponse mirrors the extraction backend's full-document shape so
// the UI renders both sources identically.
type documentResponse struct {
	Success           bool           `json:"success"`
	Data              map[string]any `json:"data"`
	ExtractedFields   []string       `json:"extractedFields"`
	MissingFields     []string       `json:"missingFields"`
	IsComplete        bool           `json:"isComplete"`
	HighlightedFields []string       `json:"highlightedFields"`
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	snap := s.app.Store().Snapshot()

	data := make(map[string]any, len(snap))
	for _, key := range s.app.Schema().Keys() {
		f, _ := s.app.Schema().Field(key)
		v := snap[key]
		if f.Kind == schema.KindList {
			items := v.Items
			if items == nil {
				items = []string{}
			}
			data[key] = items
		} else {
			data[key] = v.Text
		}
	}

	writeJSON(w, http.StatusOK, documentResponse{
		Success:           true,
		Data:              data,
		ExtractedFields:   s.app.Store().CollectedKeys(),
		MissingFields:     s.app.Store().MissingKeys(),
		IsComplete:        s.app.Store().Complete(),
		HighlightedFields: s.app.Highlights(),
	})
}

// fieldEditRequest is the body of PUT /api/document/fields/{key}.
type fieldEditRequest struct {
	Value any `json:"value"`
}

func (s *Server) handleFieldEdit(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req fieldEditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.app.SubmitUserEdit(r.Context(), key, req.Value)
	switch {
	case errors.Is(err, app.ErrUnknownField):
		writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, app.ErrInvalidValue):
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success       bool     `json:"success"`
		ChangedFields []string `json:"changedFields"`
	}{Success: true, ChangedFields: res.ChangedKeys})
}

// ─── Transcript ──────────────────────────────────────────────────────────────

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Success bool               `json:"success"`
		Entries []transcript.Entry `json:"entries"`
	}{Success: true, Entries: s.app.Transcript().Entries()})
}

// transcriptAppendRequest is the body of POST /api/transcript.
type transcriptAppendRequest struct {
	Role transcript.Role `json:"role"`
	Text string          `json:"text"`
}

func (s *Server) handleTranscriptAppend(w http.ResponseWriter, r *http.Request) {
	var req transcriptAppendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.app.AppendTranscript(r.Context(), req.Role, req.Text)
	if errors.Is(err, app.ErrInvalidRole) {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	body := struct {
		Success  bool              `json:"success"`
		Accepted bool              `json:"accepted"`
		Entry    *transcript.Entry `json:"entry,omitempty"`
	}{Success: true, Accepted: res.Accepted}
	if res.Accepted {
		body.Entry = &res.Entry
	}
	writeJSON(w, http.StatusOK, body)
}

// ─── Event stream ────────────────────────────────────────────────────────────

// handleEvents upgrades to WebSocket and forwards application events until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The UI is served from a different origin in development.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("event stream accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "teardown")

	ctx := r.Context()
	events, cancel := s.app.SubscribeEvents(ctx, 32)
	defer cancel()

	s.log.Debug("event stream client connected", "remote", r.RemoteAddr)

	// Drain client frames so pings are answered and closes are noticed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutdown")
			return
		case <-readDone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				s.log.Debug("event stream write failed", "err", err)
				return
			}
		}
	}
}

// ─── Response helpers ────────────────────────────────────────────────────────

// errorResponse is the failure envelope shared with the extraction backend.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"success":false,"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}
