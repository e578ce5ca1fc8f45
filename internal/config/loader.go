package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Extraction backend
	if cfg.Extraction.BaseURL == "" {
		errs = append(errs, errors.New("extraction.base_url is required"))
	} else if err := validateURL(cfg.Extraction.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("extraction.base_url: %w", err))
	}
	for i, raw := range cfg.Extraction.FallbackURLs {
		if err := validateURL(raw, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("extraction.fallback_urls[%d]: %w", i, err))
		}
	}
	if cfg.Extraction.PushURL == "" {
		slog.Warn("extraction.push_url is empty; push channel disabled, polling stays at the fast interval")
	} else if err := validateURL(cfg.Extraction.PushURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("extraction.push_url: %w", err))
	}
	if cfg.Extraction.FastPollInterval < 0 {
		errs = append(errs, errors.New("extraction.fast_poll_interval must not be negative"))
	}
	if cfg.Extraction.SlowPollInterval < 0 {
		errs = append(errs, errors.New("extraction.slow_poll_interval must not be negative"))
	}
	if cfg.Extraction.FastPollInterval > 0 && cfg.Extraction.SlowPollInterval > 0 &&
		cfg.Extraction.SlowPollInterval < cfg.Extraction.FastPollInterval {
		slog.Warn("extraction.slow_poll_interval is shorter than fast_poll_interval; push health will speed polling up instead of slowing it down",
			"fast", cfg.Extraction.FastPollInterval.Std(),
			"slow", cfg.Extraction.SlowPollInterval.Std(),
		)
	}
	if f := cfg.Extraction.ThrottleFraction; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("extraction.throttle_fraction %.2f is out of range [0, 1]", f))
	}
	if cfg.Extraction.RequestTimeout < 0 {
		errs = append(errs, errors.New("extraction.request_timeout must not be negative"))
	}
	if cfg.Extraction.FailureThreshold < 0 {
		errs = append(errs, errors.New("extraction.failure_threshold must not be negative"))
	}

	// Document
	if cfg.Document.HighlightDuration < 0 {
		errs = append(errs, errors.New("document.highlight_duration must not be negative"))
	}
	if cfg.Document.SchemaFile != "" {
		if _, err := os.Stat(cfg.Document.SchemaFile); err != nil {
			errs = append(errs, fmt.Errorf("document.schema_file: %w", err))
		}
	}

	// Transcript
	if cfg.Transcript.MaxEntries < 0 {
		errs = append(errs, errors.New("transcript.max_entries must not be negative"))
	}

	return errors.Join(errs...)
}

// validateURL checks that raw parses as an absolute URL using one of the
// given schemes.
func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("URL %q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("URL %q must use one of the schemes %v", raw, schemes)
}
