// Package normalize converts raw field updates from the extraction backend
// (or the UI) into validated patches against the canonical schema.
//
// The backend emits partial, differently-shaped updates: field names in any
// of several conventions and values that may be strings, string arrays, or
// numbers. [Normalizer.Normalize] resolves each name through the schema's
// alias table and coerces the value to the field's declared kind. Keys that
// cannot be resolved or coerced are dropped with a warning — a malformed
// field never fails the rest of the patch, and an update that normalizes to
// nothing is a legal no-op.
package normalize

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roledraft/roledraft/internal/schema"
)

// listSeparators are the secondary separators tried when a list arrives as a
// single line of text ("React, Node.js; Docker").
const listSeparators = ",;•"

// Option is a functional option for [New].
type Option func(*Normalizer)

// WithLogger sets the logger used for dropped-field warnings.
// Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.log = l }
}

// WithSuggestionThreshold sets the minimum Jaro-Winkler similarity required
// before an unknown field name warning includes a "did you mean" candidate.
// Default: 0.80.
func WithSuggestionThreshold(threshold float64) Option {
	return func(n *Normalizer) { n.suggestThreshold = threshold }
}

// Normalizer maps heterogeneous field updates onto a [schema.Patch].
// It is read-only after construction and safe for concurrent use.
type Normalizer struct {
	schema           *schema.Schema
	log              *slog.Logger
	suggestThreshold float64
}

// New creates a Normalizer bound to the given schema.
func New(s *schema.Schema, opts ...Option) *Normalizer {
	n := &Normalizer{
		schema:           s,
		log:              slog.Default(),
		suggestThreshold: defaultSuggestionThreshold,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize converts update into a patch containing only the keys that
// resolved to a canonical field and produced a valid value. Every key in
// the returned patch is a member of the schema's key set.
func (n *Normalizer) Normalize(update schema.FieldUpdate) schema.Patch {
	patch := make(schema.Patch, len(update))

	for name, raw := range update {
		field, ok := n.schema.Resolve(name)
		if !ok {
			n.warnUnknown(name)
			continue
		}

		value, ok := n.coerce(field, raw)
		if !ok {
			continue
		}
		patch[field.Key] = value
	}

	return patch
}

// coerce converts raw into a canonical value for field. The second return
// is false when the value cannot be represented and the field must be
// dropped.
func (n *Normalizer) coerce(field schema.Field, raw any) (schema.Value, bool) {
	switch field.Kind {
	case schema.KindList:
		return n.coerceList(field, raw)
	case schema.KindEnum:
		return n.coerceEnum(field, raw)
	default:
		return n.coerceScalar(field, raw)
	}
}

func (n *Normalizer) coerceScalar(field schema.Field, raw any) (schema.Value, bool) {
	switch v := raw.(type) {
	case string:
		return schema.ScalarValue(strings.TrimSpace(v)), true
	case nil:
		return schema.Value{}, false
	default:
		if s, ok := stringifyNumber(raw); ok {
			return schema.ScalarValue(s), true
		}
		n.log.Warn("dropping field with unsupported scalar value",
			"field", field.Key,
			"type", fmt.Sprintf("%T", raw),
		)
		return schema.Value{}, false
	}
}

func (n *Normalizer) coerceEnum(field schema.Field, raw any) (schema.Value, bool) {
	scalar, ok := n.coerceScalar(field, raw)
	if !ok {
		return schema.Value{}, false
	}
	if scalar.Text == "" {
		// Clearing an enum field is allowed; it falls back to unset.
		return scalar, true
	}
	canonical, ok := field.EnumValue(scalar.Text)
	if !ok {
		n.log.Warn("dropping enum field with unrecognised value",
			"field", field.Key,
			"value", scalar.Text,
			"allowed", field.Values,
		)
		return schema.Value{}, false
	}
	return schema.ScalarValue(canonical), true
}

func (n *Normalizer) coerceList(field schema.Field, raw any) (schema.Value, bool) {
	switch v := raw.(type) {
	case string:
		return schema.ListValue(SplitList(v)), true
	case []string:
		items := make([]string, 0, len(v))
		for _, item := range v {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return schema.ListValue(items), true
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		return schema.ListValue(items), true
	case nil:
		return schema.Value{}, false
	default:
		n.log.Warn("dropping list field with unsupported value",
			"field", field.Key,
			"type", fmt.Sprintf("%T", raw),
		)
		return schema.Value{}, false
	}
}

// warnUnknown logs a dropped unknown field, with a nearest-key suggestion
// when one is similar enough to look like a renamed or misspelt alias.
func (n *Normalizer) warnUnknown(name string) {
	if suggestion, score, ok := n.nearestKey(name); ok {
		n.log.Warn("dropping unknown field",
			"field", name,
			"did_you_mean", suggestion,
			"similarity", fmt.Sprintf("%.2f", score),
		)
		return
	}
	n.log.Warn("dropping unknown field", "field", name)
}

// SplitList breaks a raw string into list items: split on newlines first;
// when that yields exactly one non-empty segment, re-split on commas,
// semicolons, and bullet characters. Segments are trimmed and empty ones
// discarded. The result is never nil.
func SplitList(raw string) []string {
	lines := collectSegments(strings.Split(raw, "\n"))
	if len(lines) != 1 {
		return lines
	}
	// Single line: the backend sometimes packs a whole list into one
	// comma- or semicolon-separated string.
	inline := collectSegments(strings.FieldsFunc(lines[0], func(r rune) bool {
		return strings.ContainsRune(listSeparators, r)
	}))
	if len(inline) == 0 {
		return lines
	}
	return inline
}

// collectSegments trims segments and drops empty ones, always returning a
// non-nil slice.
func collectSegments(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "•"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// stringifyNumber renders a numeric raw value as a string. It accepts the
// types the JSON decoder and YAML decoder produce for numbers.
func stringifyNumber(raw any) (string, bool) {
	switch v := raw.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
