package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
)

// Default reconnection parameters for the push channel.
const (
	defaultPushBackoff    = 1 * time.Second
	defaultPushMaxBackoff = 30 * time.Second
)

// PushListenerConfig configures a [PushListener].
type PushListenerConfig struct {
	// URL is the WebSocket endpoint that carries the backend's server
	// messages (e.g. "ws://localhost:7860/events").
	URL string

	// OnEvent is invoked for every recognised push event, in arrival
	// order, from the listener's read goroutine. Required.
	OnEvent func(ctx context.Context, ev PushEvent)

	// Backoff is the initial reconnect delay. Doubles per failed attempt
	// up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the reconnect delay. Defaults to 30s if zero.
	MaxBackoff time.Duration
}

// PushListener maintains the push-channel WebSocket connection to the
// extraction backend. The push channel is best-effort by design: delivery
// is not guaranteed, duplicates happen, and the listener reconnects with
// exponential backoff for as long as the session lives. The connection
// never carries authority — consumers treat every event as a hint and
// re-derive ground truth over the polling channel.
type PushListener struct {
	url        string
	onEvent    func(context.Context, PushEvent)
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewPushListener creates a PushListener from cfg.
func NewPushListener(cfg PushListenerConfig) (*PushListener, error) {
	if cfg.URL == "" {
		return nil, errors.New("extraction: push listener URL is required")
	}
	if cfg.OnEvent == nil {
		return nil, errors.New("extraction: push listener OnEvent is required")
	}
	p := &PushListener{
		url:        cfg.URL,
		onEvent:    cfg.OnEvent,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
	}
	if p.backoff <= 0 {
		p.backoff = defaultPushBackoff
	}
	if p.maxBackoff <= 0 {
		p.maxBackoff = defaultPushMaxBackoff
	}
	return p, nil
}

// Run connects to the push endpoint and dispatches events until ctx is
// cancelled. Connection drops and dial failures are retried with
// exponential backoff; Run only returns ctx.Err().
func (p *PushListener) Run(ctx context.Context) error {
	currentBackoff := p.backoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("push channel disconnected, reconnecting",
			"url", p.url,
			"backoff", currentBackoff,
			"err", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(currentBackoff):
		}

		currentBackoff *= 2
		if currentBackoff > p.maxBackoff {
			currentBackoff = p.maxBackoff
		}
	}
}

// listenOnce dials the endpoint and reads messages until the connection
// fails or ctx is cancelled.
func (p *PushListener) listenOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("extraction: push dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "teardown")

	slog.Info("push channel connected", "url", p.url)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("extraction: push read: %w", err)
		}
		if ev, ok := decodePushMessage(data); ok {
			p.onEvent(ctx, ev)
		}
	}
}

// wireMessage is the envelope shape used on the push channel. Some backend
// transports wrap server messages in an extra {"type":"serverMessage"}
// layer; decodePushMessage unwraps one level of that.
type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// eventPayload is the interesting portion of a push event's data block.
type eventPayload struct {
	FieldName string `json:"fieldName"`
}

// decodePushMessage parses a raw frame into a [PushEvent]. Unknown or
// malformed messages are dropped — the push channel is advisory, so there
// is nothing to recover.
func decodePushMessage(data []byte) (PushEvent, bool) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("ignoring malformed push message", "err", err)
		return PushEvent{}, false
	}

	if msg.Type == "serverMessage" && len(msg.Data) > 0 {
		inner := msg.Data
		if err := json.Unmarshal(inner, &msg); err != nil {
			slog.Debug("ignoring malformed wrapped push message", "err", err)
			return PushEvent{}, false
		}
	}

	switch msg.Type {
	case EventExtractionComplete, EventDataUpdate:
	default:
		slog.Debug("ignoring push message of unknown type", "type", msg.Type)
		return PushEvent{}, false
	}

	var payload eventPayload
	if len(msg.Data) > 0 {
		// Field name is advisory; decode errors only lose the hint.
		_ = json.Unmarshal(msg.Data, &payload)
	}

	return PushEvent{Type: msg.Type, FieldName: payload.FieldName}, true
}
