// Package config provides the configuration schema, loader, and file watcher
// for the roledraft reconciliation server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the roledraft server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps [time.Duration] so YAML values can be written in the usual
// human form ("2s", "500ms", "1m30s").
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"2s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for roledraft.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Document   DocumentConfig   `yaml:"document"`
	Transcript TranscriptConfig `yaml:"transcript"`
}

// ServerConfig holds network and logging settings for the roledraft server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ExtractionConfig describes the remote extraction backend and the tuning of
// the reconciliation loop that polls it.
type ExtractionConfig struct {
	// BaseURL is the HTTP root of the extraction backend
	// (e.g., "http://localhost:3001"). Required.
	BaseURL string `yaml:"base_url"`

	// FallbackURLs lists additional backend replicas tried in order when the
	// primary fails. Each replica sits behind its own circuit breaker.
	FallbackURLs []string `yaml:"fallback_urls"`

	// PushURL is the WebSocket endpoint for push notifications
	// (e.g., "ws://localhost:3001/ws"). When empty, the push channel is
	// disabled and polling stays at the fast interval.
	PushURL string `yaml:"push_url"`

	// FastPollInterval is the poll period while the push channel has never
	// delivered. Default: 2s.
	FastPollInterval Duration `yaml:"fast_poll_interval"`

	// SlowPollInterval is the poll period once the push channel has proven
	// healthy. Default: 5s.
	SlowPollInterval Duration `yaml:"slow_poll_interval"`

	// ThrottleFraction is the probability that a poll tick still executes
	// once the push channel is healthy, in (0, 1]. Default: 0.2.
	ThrottleFraction float64 `yaml:"throttle_fraction"`

	// RequestTimeout bounds a single status check or document fetch.
	// Default: 10s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// FailureThreshold is the number of consecutive poll failures after
	// which a connectivity warning is surfaced to the UI. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`
}

// DocumentConfig holds settings for the document store and field schema.
type DocumentConfig struct {
	// SchemaFile is the path to a YAML field-schema definition. When empty,
	// the compiled-in default schema is used.
	SchemaFile string `yaml:"schema_file"`

	// HighlightDuration is how long a changed field stays highlighted in
	// the UI before the highlight clears. Default: 3s.
	HighlightDuration Duration `yaml:"highlight_duration"`
}

// TranscriptConfig holds settings for the conversation transcript log.
type TranscriptConfig struct {
	// MaxEntries caps the number of retained transcript entries; the oldest
	// entries are evicted first. Zero means unlimited.
	MaxEntries int `yaml:"max_entries"`
}
