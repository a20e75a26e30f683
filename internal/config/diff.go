package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MonitorChanged is set when any monitor tunable that the running
	// monitor picks up differs.
	MonitorChanged bool

	VolumeThresholdChanged bool
	SilenceTimeoutChanged  bool
	NewSilenceTimeout      time.Duration

	// RestartRequired lists sections whose changes are ignored until restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Monitor.Params(), new.Monitor.Params()
	if op.VolumeThreshold != np.VolumeThreshold {
		d.VolumeThresholdChanged = true
	}
	if op.SilenceTimeout != np.SilenceTimeout {
		d.SilenceTimeoutChanged = true
		d.NewSilenceTimeout = np.SilenceTimeout
	}
	d.MonitorChanged = op != np

	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Enrichment != new.Enrichment {
		d.RestartRequired = append(d.RestartRequired, "enrichment")
	}

	return d
}

// sameProviders compares the identifying fields of every provider entry.
// Options are not compared.
func sameProviders(a, b ProvidersConfig) bool {
	eq := func(x, y ProviderEntry) bool {
		return x.Name == y.Name && x.APIKey == y.APIKey && x.BaseURL == y.BaseURL && x.Model == y.Model
	}
	return eq(a.Capture, b.Capture) && eq(a.STT, b.STT) && eq(a.LLM, b.LLM) && eq(a.Embeddings, b.Embeddings)
}
