// Package api serves the HTTP control surface: capture start/stop, the
// status websocket, recording navigation and deletion, search, stats, the
// health probes, Prometheus metrics, and an MCP endpoint exposing the same
// read operations as tools.
//
// Routes:
//
//	POST   /api/v1/capture/start
//	POST   /api/v1/capture/stop
//	GET    /api/v1/capture/state
//	GET    /api/v1/status/stream                       (websocket)
//	GET    /api/v1/days
//	DELETE /api/v1/days/{day}
//	GET    /api/v1/days/{day}/hours
//	GET    /api/v1/days/{day}/hours/{hour}/recordings
//	GET    /api/v1/recordings/{id}
//	GET    /api/v1/recordings/{id}/audio
//	DELETE /api/v1/recordings/{id}
//	GET    /api/v1/stats
//	GET    /api/v1/search?q=&limit=&mode=semantic
//	GET    /healthz, /readyz, /metrics
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxlog/internal/health"
	"github.com/MrWong99/voxlog/internal/monitor"
	"github.com/MrWong99/voxlog/internal/observe"
	"github.com/MrWong99/voxlog/internal/search"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/pkg/recording"
)

// Capture is the lifecycle surface the API drives. [*app.Service] implements
// it.
type Capture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() monitor.CaptureState
	Running() bool
	StartedAt() time.Time
	Saved() int64
	PowerHeld() bool
	Params() monitor.Params
}

// Config holds the dependencies of a [Server]. Capture, Repository, Searcher
// and Hub are required.
type Config struct {
	Capture    Capture
	Repository *recording.Repository
	Searcher   *search.Searcher
	Hub        *status.Hub

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string

	// MCPPath mounts the MCP endpoint. Empty disables it.
	MCPPath string

	// Version is reported to MCP clients.
	Version string
}

// Server routes API requests. It is safe for concurrent use.
type Server struct {
	cfg     Config
	mcp     *mcpsdk.Server
	handler http.Handler
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Capture == nil:
		return nil, errors.New("api: capture is required")
	case cfg.Repository == nil:
		return nil, errors.New("api: repository is required")
	case cfg.Searcher == nil:
		return nil, errors.New("api: searcher is required")
	case cfg.Hub == nil:
		return nil, errors.New("api: status hub is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{cfg: cfg}
	s.mcp = s.newMCPServer()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/capture/start", s.handleStart)
	mux.HandleFunc("POST /api/v1/capture/stop", s.handleStop)
	mux.HandleFunc("GET /api/v1/capture/state", s.handleState)
	mux.Handle("GET /api/v1/status/stream", status.Handler(cfg.Hub, cfg.AllowedOrigins...))

	mux.HandleFunc("GET /api/v1/days", s.handleDays)
	mux.HandleFunc("DELETE /api/v1/days/{day}", s.handleDeleteDay)
	mux.HandleFunc("GET /api/v1/days/{day}/hours", s.handleHours)
	mux.HandleFunc("GET /api/v1/days/{day}/hours/{hour}/recordings", s.handleInHour)
	mux.HandleFunc("GET /api/v1/recordings/{id}", s.handleGet)
	mux.HandleFunc("GET /api/v1/recordings/{id}/audio", s.handleAudio)
	mux.HandleFunc("DELETE /api/v1/recordings/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)

	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	if cfg.MCPPath != "" {
		mux.Handle(cfg.MCPPath, mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil))
	}

	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s, nil
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// MCPServer returns the MCP server backing the MCP endpoint, for use with
// other transports.
func (s *Server) MCPServer() *mcpsdk.Server { return s.mcp }

// captureState is the JSON view of the capture lifecycle.
type captureState struct {
	State            monitor.CaptureState `json:"state"`
	Running          bool                 `json:"running"`
	StartedAt        *time.Time           `json:"started_at,omitempty"`
	Saved            int64                `json:"saved"`
	PowerHeld        bool                 `json:"power_held"`
	VolumeThreshold  uint16               `json:"volume_threshold"`
	SilenceTimeoutMs int64                `json:"silence_timeout_ms"`
}

func (s *Server) snapshot() captureState {
	c := s.cfg.Capture
	p := c.Params()
	st := captureState{
		State:            c.State(),
		Running:          c.Running(),
		Saved:            c.Saved(),
		PowerHeld:        c.PowerHeld(),
		VolumeThreshold:  p.VolumeThreshold,
		SilenceTimeoutMs: p.SilenceTimeout.Milliseconds(),
	}
	if t := c.StartedAt(); !t.IsZero() {
		st.StartedAt = &t
	}
	return st
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Capture.Start(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Capture.Stop(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.cfg.Repository.Days(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) handleHours(w http.ResponseWriter, r *http.Request) {
	hours, err := s.cfg.Repository.Hours(r.Context(), r.PathValue("day"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, hours)
}

func (s *Server) handleInHour(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cfg.Repository.InHour(r.Context(), r.PathValue("day"), r.PathValue("hour"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDeleteDay(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("day")
	n, err := s.cfg.Repository.DeleteDay(r.Context(), day)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	observe.Logger(r.Context()).Info("api: day deleted", "day", day, "recordings", n)
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "audio/mp4")
	http.ServeFile(w, r, rec.FilePath)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Repository.Delete(r.Context(), id); err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	observe.Logger(r.Context()).Info("api: recording deleted", "recording_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} path value, writing the error response itself
// when it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (recording.Recording, bool) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return recording.Recording{}, false
	}
	rec, err := s.cfg.Repository.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return recording.Recording{}, false
	}
	return rec, true
}

// statsResponse summarises today's activity and disk usage.
type statsResponse struct {
	TodayCount      int   `json:"today_count"`
	TodayDurationMs int64 `json:"today_duration_ms"`
	StorageBytes    int64 `json:"storage_bytes"`
	SavedThisRun    int64 `json:"saved_since_start"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	today, err := s.cfg.Repository.TodayStats(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	used, err := s.cfg.Repository.StorageUsed()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TodayCount:      today.Count,
		TodayDurationMs: today.DurationMs,
		StorageBytes:    used,
		SavedThisRun:    s.cfg.Capture.Saved(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("api: invalid limit %q", raw))
			return
		}
		limit = n
	}
	results, err := s.search(r.Context(), q.Get("q"), limit, q.Get("mode") == search.KindSemantic)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) search(ctx context.Context, query string, limit int, semantic bool) ([]search.Result, error) {
	if semantic {
		return s.cfg.Searcher.Semantic(ctx, query, limit)
	}
	return s.cfg.Searcher.Search(ctx, query, limit)
}

func parseID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("api: invalid recording id %q", raw)
	}
	return id, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, recording.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recording.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrSemanticUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}
