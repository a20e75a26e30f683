// Package app wires the voxlog subsystems into a running process.
//
// The App struct owns the full lifecycle: New opens storage and connects the
// capture service, enrichment, search and the HTTP surface; Run serves HTTP
// until the context ends; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStorage,
// WithPowerLock, WithClock). When an option is not provided, New builds the
// real implementation from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlog/internal/api"
	"github.com/MrWong99/voxlog/internal/config"
	"github.com/MrWong99/voxlog/internal/enrich"
	"github.com/MrWong99/voxlog/internal/health"
	"github.com/MrWong99/voxlog/internal/monitor"
	"github.com/MrWong99/voxlog/internal/observe"
	"github.com/MrWong99/voxlog/internal/power"
	"github.com/MrWong99/voxlog/internal/search"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/internal/storage"
	"github.com/MrWong99/voxlog/pkg/capture"
	"github.com/MrWong99/voxlog/pkg/provider/embeddings"
	"github.com/MrWong99/voxlog/pkg/provider/llm"
	"github.com/MrWong99/voxlog/pkg/provider/stt"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// defaultEmbeddingDims is used when neither the config nor the embeddings
// provider names a vector width.
const defaultEmbeddingDims = 1536

// Providers holds one interface value per provider slot. Capture and STT are
// required; a nil LLM disables titles and a nil Embeddings disables the
// vector index and semantic search. Populated by main.go via the config
// registry.
type Providers struct {
	Capture    capture.Device
	STT        stt.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// deviceChecker is implemented by capture devices that can verify the input
// is usable without recording.
type deviceChecker interface {
	Check(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string

	storage   *storage.Handle
	power     power.Lock
	clock     monitor.Clock
	metrics   *observe.Metrics
	telemetry *observe.Telemetry
	logLevel  *slog.LevelVar

	hub      *status.Hub
	coord    *enrich.Coordinator
	service  *Service
	searcher *search.Searcher
	health   *health.Handler
	api      *api.Server
	httpSrv  *http.Server

	listenMu sync.Mutex
	addr     net.Addr
	ready    chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStorage injects a storage handle. Without it New uses the handle
// registered with [storage.InitShared], or opens one from config. An
// injected or shared handle is closed by its owner.
func WithStorage(h *storage.Handle) Option {
	return func(a *App) { a.storage = h }
}

// WithPowerLock injects the sleep inhibitor used while capturing.
func WithPowerLock(l power.Lock) Option {
	return func(a *App) { a.power = l }
}

// WithClock injects the monitor clock.
func WithClock(c monitor.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithTelemetry mounts the telemetry's Prometheus registry at /metrics.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands New the level variable of the process logger so config
// reloads can change it.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New creates an App by wiring all subsystems together. Storage is opened
// and the capture device probed concurrently; a failed device check is only
// logged because the microphone may appear later.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.Capture == nil {
		return nil, errors.New("app: a capture device is required")
	}
	if providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.storage == nil {
		if h, err := storage.Shared(); err == nil {
			a.storage = h
		} else {
			a.storage = storage.NewHandle(recording.Layout{Root: cfg.Storage.Root}, StorageOpener(cfg, providers.Embeddings))
			a.closers = append(a.closers, a.storage.Close)
		}
	}
	if a.power == nil {
		a.power = a.powerLock()
	}

	// ── 1. Storage + device probe ────────────────────────────────────────
	var repo *recording.Repository
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := a.storage.Repository(gctx)
		if err != nil {
			return err
		}
		repo = r
		return nil
	})
	if dc, ok := providers.Capture.(deviceChecker); ok {
		g.Go(func() error {
			if err := dc.Check(gctx); err != nil {
				slog.Warn("capture device not ready", "device", providers.Capture.Name(), "err", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	var index recording.VectorIndex
	if providers.Embeddings != nil {
		vi, ok, err := a.storage.VectorIndex(ctx)
		switch {
		case err != nil:
			a.closeAll()
			return nil, fmt.Errorf("app: init vector index: %w", err)
		case !ok:
			slog.Warn("store has no vector index, semantic search disabled", "driver", cfg.Storage.Driver)
		default:
			index = vi
		}
	}

	// ── 2. Status hub + enrichment ───────────────────────────────────────
	a.hub = status.NewHub(status.WithMetrics(a.metrics))

	var titler enrich.Titler
	if providers.LLM != nil {
		titler = enrich.NewLLMTitler(providers.LLM)
	}
	var embedder embeddings.Provider
	if index != nil {
		embedder = providers.Embeddings
	}
	coord, err := enrich.New(enrich.Config{
		Store:       repo,
		Transcriber: providers.STT,
		Titler:      titler,
		Embedder:    embedder,
		Index:       index,
		Workers:     cfg.Enrichment.Workers,
		JobTimeout:  cfg.Enrichment.JobTimeout,
		Publisher:   a.hub,
		Metrics:     a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init enrichment: %w", err)
	}
	a.coord = coord

	// ── 3. Capture service ───────────────────────────────────────────────
	policy, err := enrich.ParseStopPolicy(cfg.Enrichment.StopPolicy)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	svc, err := NewService(ServiceConfig{
		Device:     providers.Capture,
		Repository: repo,
		Enricher:   coord,
		Hub:        a.hub,
		Power:      a.power,
		MaxHold:    cfg.Power.MaxHold,
		Params:     cfg.Monitor.Params(),
		ScratchDir: cfg.Capture.ScratchDir,
		StopPolicy: policy,
		Clock:      a.clock,
		Metrics:    a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.service = svc

	// ── 4. Search, health, HTTP ──────────────────────────────────────────
	var searchOpts []search.Option
	if embedder != nil {
		searchOpts = append(searchOpts, search.WithSemantic(embedder, index))
	}
	a.searcher = search.New(repo, searchOpts...)

	a.health = health.New(health.Checker{Name: "storage", Check: a.storage.Ping})
	if dc, ok := providers.Capture.(deviceChecker); ok {
		a.health.Add(health.Checker{Name: "capture", Check: dc.Check, Optional: true})
	}

	apiCfg := api.Config{
		Capture:        svc,
		Repository:     repo,
		Searcher:       a.searcher,
		Hub:            a.hub,
		Health:         a.health,
		Metrics:        a.metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Version:        a.version,
	}
	if cfg.MCP.Enabled {
		apiCfg.MCPPath = cfg.MCP.Path
	}
	if a.telemetry != nil {
		apiCfg.MetricsHandler = a.telemetry.MetricsHandler()
	}
	srv, err := api.New(apiCfg)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.api = srv
	a.httpSrv = &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app initialised",
		"device", providers.Capture.Name(),
		"driver", cfg.Storage.Driver,
		"titles", titler != nil,
		"semantic_search", a.searcher.SemanticEnabled(),
		"mcp", cfg.MCP.Enabled,
	)
	return a, nil
}

// StorageOpener picks the row store for cfg. The embedding column width
// comes from the config, then from emb, then a default.
func StorageOpener(cfg *config.Config, emb embeddings.Provider) storage.Opener {
	st := cfg.Storage
	if st.Driver != config.DriverPostgres {
		return storage.SQLite(st.SQLitePath)
	}
	dims := st.EmbeddingDimensions
	if dims == 0 && emb != nil {
		dims = emb.Dimensions()
	}
	if dims == 0 {
		dims = defaultEmbeddingDims
	}
	return storage.Postgres(st.PostgresDSN, dims)
}

// powerLock builds the configured inhibitor. An unavailable inhibitor falls
// back to no lock so capture still works on hosts without logind.
func (a *App) powerLock() power.Lock {
	if !a.cfg.Power.Enabled {
		return &power.Noop{}
	}
	in := &power.Inhibitor{Path: a.cfg.Power.InhibitPath, Why: "voxlog is recording"}
	if err := in.Available(); err != nil {
		slog.Warn("power inhibitor unavailable, sleep will not be blocked", "err", err)
		return &power.Noop{}
	}
	return in
}

// Service returns the capture lifecycle manager.
func (a *App) Service() *Service { return a.service }

// Hub returns the status hub.
func (a *App) Hub() *status.Hub { return a.hub }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Ready is closed once Run is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the bound listen address, or nil before Run is listening.
func (a *App) Addr() net.Addr {
	a.listenMu.Lock()
	defer a.listenMu.Unlock()
	return a.addr
}

// Run listens on the configured address, starts capture when autostart is
// set, and serves HTTP until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.listenMu.Lock()
	a.addr = ln.Addr()
	a.listenMu.Unlock()
	close(a.ready)

	if a.cfg.Autostart {
		if err := a.service.Start(ctx); err != nil {
			slog.Error("autostart failed", "err", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if tc := a.cfg.Server.TLS; tc != nil {
			a.httpSrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			errCh <- a.httpSrv.ServeTLS(ln, tc.CertFile, tc.KeyFile)
			return
		}
		errCh <- a.httpSrv.Serve(ln)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change: the log
// level and the monitor tunables. Everything else is logged as needing a
// restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MonitorChanged {
		if err := a.service.SetParams(new.Monitor.Params()); err != nil {
			slog.Warn("monitor settings rejected", "err", err)
		} else {
			slog.Info("monitor settings applied",
				"volume_threshold_changed", d.VolumeThresholdChanged,
				"silence_timeout", d.NewSilenceTimeout,
			)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
	a.cfg = new
}

// Shutdown stops HTTP, capture and enrichment, then runs the closers. Detached
// enrichment jobs get until the ctx deadline before they are cancelled.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http: %w", err))
		}
		if err := a.service.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
		if err := a.coord.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		a.closeAll()

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

// SlogLevel maps a config log level to its slog counterpart.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
