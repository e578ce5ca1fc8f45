package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, backend URLs, schema file) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TuningChanged is true when any reconciliation tuning knob changed:
	// poll intervals, throttle fraction, request timeout, or failure
	// threshold.
	TuningChanged bool

	// HighlightChanged is true when the UI highlight duration changed.
	HighlightChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.TuningChanged || d.HighlightChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Extraction.FastPollInterval != new.Extraction.FastPollInterval ||
		old.Extraction.SlowPollInterval != new.Extraction.SlowPollInterval ||
		old.Extraction.ThrottleFraction != new.Extraction.ThrottleFraction ||
		old.Extraction.RequestTimeout != new.Extraction.RequestTimeout ||
		old.Extraction.FailureThreshold != new.Extraction.FailureThreshold {
		d.TuningChanged = true
	}

	if old.Document.HighlightDuration != new.Document.HighlightDuration {
		d.HighlightChanged = true
	}

	return d
}
