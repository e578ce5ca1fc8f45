package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/roledraft/roledraft/internal/config"
	"gopkg.in/yaml.v3"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	valid := []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError}
	for _, l := range valid {
		if !l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = false, want true", l)
		}
	}
	invalid := []config.LogLevel{"", "trace", "INFO", "verbose"}
	for _, l := range invalid {
		if l.IsValid() {
			t.Errorf("LogLevel(%q).IsValid() = true, want false", l)
		}
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", `d: "2s"`, 2 * time.Second, false},
		{"milliseconds", `d: "500ms"`, 500 * time.Millisecond, false},
		{"compound", `d: "1m30s"`, 90 * time.Second, false},
		{"garbage", `d: "soon"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out struct {
				D config.Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte(tt.yaml), &out)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%q) error = nil, want non-nil", tt.yaml)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%q) error = %v", tt.yaml, err)
			}
			if out.D.Std() != tt.want {
				t.Errorf("Duration = %v, want %v", out.D.Std(), tt.want)
			}
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	t.Parallel()
	in := struct {
		D config.Duration `yaml:"d"`
	}{D: config.Duration(2500 * time.Millisecond)}

	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), "2.5s") {
		t.Errorf("marshalled form = %q, want it to contain %q", data, "2.5s")
	}

	var out struct {
		D config.Duration `yaml:"d"`
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.D != in.D {
		t.Errorf("round trip = %v, want %v", out.D.Std(), in.D.Std())
	}
}
