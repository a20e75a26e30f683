package config_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxlog/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)

	d := config.Diff(a, b)
	if d.LogLevelChanged || d.MonitorChanged || d.VolumeThresholdChanged || d.SilenceTimeoutChanged {
		t.Errorf("expected no hot-reload changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired: got %v, want none", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "server:\n  log_level: info\n")
	b := mustLoad(t, "server:\n  log_level: warn\n")

	d := config.Diff(a, b)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged: got false, want true")
	}
	if d.NewLogLevel != config.LogWarn {
		t.Errorf("NewLogLevel: got %q, want %q", d.NewLogLevel, config.LogWarn)
	}
}

func TestDiff_MonitorTunables(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "")
	b := mustLoad(t, "monitor:\n  volume_threshold: 300\n  silence_timeout: 5s\n")

	d := config.Diff(a, b)
	if !d.MonitorChanged || !d.VolumeThresholdChanged || !d.SilenceTimeoutChanged {
		t.Fatalf("expected monitor changes, got %+v", d)
	}
	if d.NewSilenceTimeout != 5*time.Second {
		t.Errorf("NewSilenceTimeout: got %s, want 5s", d.NewSilenceTimeout)
	}
}

func TestDiff_ExplicitDefaultIsNoChange(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "")
	b := mustLoad(t, "monitor:\n  volume_threshold: 100\n  silence_timeout: 10m\n")

	if d := config.Diff(a, b); d.MonitorChanged {
		t.Errorf("writing the defaults explicitly should not count as a change, got %+v", d)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, "")
	b := mustLoad(t, `
server:
  listen_addr: ":9999"
storage:
  root: /elsewhere
providers:
  stt:
    name: openai
enrichment:
  workers: 8
`)
	d := config.Diff(a, b)
	for _, want := range []string{"storage", "providers", "server.listen_addr", "enrichment"} {
		if !slices.Contains(d.RestartRequired, want) {
			t.Errorf("RestartRequired %v should contain %q", d.RestartRequired, want)
		}
	}
	if d.MonitorChanged {
		t.Error("MonitorChanged: got true, want false")
	}
}
