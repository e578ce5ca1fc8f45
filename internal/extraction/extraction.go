// Package extraction defines the boundary to the remote conversational
// extraction backend and the two channel adapters that feed the
// reconciliation controller: a request/response HTTP client for the
// status and full-document endpoints, and a WebSocket push listener for
// out-of-band extraction-complete notifications.
//
// The backend itself (speech-to-text, LLM field inference) is a black box.
// Nothing delivered over either channel is trusted as ground truth except
// by way of the status counter: push payloads are hints only, and the
// controller always re-derives state via [Client.Status] and
// [Client.Document].
package extraction

import (
	"context"

	"github.com/roledraft/roledraft/internal/schema"
)

// Status is the backend's lightweight "anything new since you last looked"
// answer. ExtractionCounter increases monotonically each time the backend
// completes an extraction; the controller compares it against the last
// counter it consumed.
type Status struct {
	HasNewExtraction  bool  `json:"hasNewExtraction"`
	ExtractionCounter int64 `json:"extractionCounter"`
}

// Client is the polling-channel view of the extraction backend.
// Implementations must be safe for concurrent use.
type Client interface {
	// Status performs the cheap status check. Safe to call frequently.
	Status(ctx context.Context) (Status, error)

	// Document fetches the full field snapshot in the backend's raw shape,
	// ready for normalization.
	Document(ctx context.Context) (schema.FieldUpdate, error)
}

// Push event types delivered by the backend over the push channel.
const (
	// EventExtractionComplete announces that a new extraction finished.
	EventExtractionComplete = "extraction-complete"

	// EventDataUpdate announces a single-field update. Carried data is a
	// hint only; the document is never merged from a push payload.
	EventDataUpdate = "jd-data-update"
)

// PushEvent is a notification received on the push channel. FieldName is
// advisory and may be empty; consumers must not merge it directly.
type PushEvent struct {
	Type      string `json:"type"`
	FieldName string `json:"fieldName,omitempty"`
}
