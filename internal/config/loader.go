package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxlog/internal/enrich"
	"github.com/MrWong99/voxlog/internal/monitor"
	"github.com/MrWong99/voxlog/internal/power"
	"github.com/MrWong99/voxlog/pkg/capture"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultStorageRoot     = "recordings"
	DefaultWorkers         = 2
	DefaultMCPPath         = "/mcp"
	DefaultCapture         = "portaudio"
	DefaultSTT             = "whisper-native"
	DefaultLLM             = "llamacpp"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"capture":    {"portaudio"},
	"stt":        {"whisper", "whisper-native", "openai"},
	"llm":        {"llamacpp", "llamafile", "ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field that has a default. Monitor
// tunables are left as written; [MonitorConfig.Params] resolves them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = DefaultStorageRoot
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.Root, "voxlog.db")
	}
	if cfg.Capture.ScratchDir == "" {
		cfg.Capture.ScratchDir = filepath.Join(cfg.Storage.Root, ".probe")
	}

	if cfg.Enrichment.Workers == 0 {
		cfg.Enrichment.Workers = DefaultWorkers
	}
	if cfg.Enrichment.StopPolicy == "" {
		cfg.Enrichment.StopPolicy = string(enrich.StopDetach)
	}
	if cfg.Power.MaxHold == 0 {
		cfg.Power.MaxHold = power.DefaultMaxHold
	}

	if cfg.Providers.Capture.Name == "" {
		cfg.Providers.Capture.Name = DefaultCapture
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTT
	}
	if cfg.Providers.LLM.Name == "" {
		cfg.Providers.LLM.Name = DefaultLLM
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Monitor
	m := cfg.Monitor
	if m.VolumeThreshold != nil && (*m.VolumeThreshold < 0 || *m.VolumeThreshold > capture.MaxAmplitude) {
		errs = append(errs, fmt.Errorf("monitor.volume_threshold %d is out of range [0, %d]", *m.VolumeThreshold, capture.MaxAmplitude))
	}
	if m.SilenceTimeout != 0 && !monitor.ValidSilenceTimeout(m.SilenceTimeout) {
		errs = append(errs, fmt.Errorf("monitor.silence_timeout %s is invalid; valid values: %v", m.SilenceTimeout, monitor.SilenceTimeouts))
	}
	for name, d := range map[string]time.Duration{
		"sustain":        m.Sustain,
		"reprobe":        m.Reprobe,
		"check_interval": m.CheckInterval,
		"min_recording":  m.MinRecording,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("monitor.%s %s must not be negative", name, d))
		}
	}
	if m.BurstSize < 0 {
		errs = append(errs, fmt.Errorf("monitor.burst_size %d must not be negative", m.BurstSize))
	}
	if len(errs) == 0 {
		if err := m.Params().Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	// Enrichment
	if cfg.Enrichment.Workers < 0 {
		errs = append(errs, fmt.Errorf("enrichment.workers %d must not be negative", cfg.Enrichment.Workers))
	}
	if _, err := enrich.ParseStopPolicy(cfg.Enrichment.StopPolicy); err != nil {
		errs = append(errs, fmt.Errorf("enrichment.stop_policy %q is invalid; valid values: detach, cancel", cfg.Enrichment.StopPolicy))
	}
	if cfg.Enrichment.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("enrichment.job_timeout %s must not be negative", cfg.Enrichment.JobTimeout))
	}

	// Power
	if cfg.Power.MaxHold < 0 {
		errs = append(errs, fmt.Errorf("power.max_hold %s must not be negative", cfg.Power.MaxHold))
	}

	// Storage
	if cfg.Storage.Driver != "" && !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: sqlite, postgres", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == DriverPostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when driver is postgres"))
	}
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must not be negative", cfg.Storage.EmbeddingDimensions))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("capture", cfg.Providers.Capture.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Embeddings ↔ storage
	if cfg.Providers.Embeddings.Name != "" {
		if cfg.Storage.Driver != DriverPostgres {
			slog.Warn("providers.embeddings is configured but storage.driver is not postgres; semantic search will not be available")
		}
		if cfg.Storage.EmbeddingDimensions <= 0 {
			slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; defaulting to 1536")
		}
	}

	// MCP
	if cfg.MCP.Path != "" && cfg.MCP.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
