package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlog/internal/api"
	"github.com/MrWong99/voxlog/internal/monitor"
	"github.com/MrWong99/voxlog/internal/search"
	"github.com/MrWong99/voxlog/internal/status"
	"github.com/MrWong99/voxlog/pkg/recording"
	recmock "github.com/MrWong99/voxlog/pkg/recording/mock"
)

// fakeCapture is a scriptable [api.Capture].
type fakeCapture struct {
	mu       sync.Mutex
	running  bool
	started  time.Time
	startErr error
	starts   int
	stops    int
}

func (f *fakeCapture) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.started = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return nil
}

func (f *fakeCapture) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	f.started = time.Time{}
	return nil
}

func (f *fakeCapture) State() monitor.CaptureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return monitor.Monitoring
	}
	return monitor.Idle
}

func (f *fakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeCapture) StartedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeCapture) Saved() int64    { return 3 }
func (f *fakeCapture) PowerHeld() bool { return f.Running() }
func (f *fakeCapture) Params() monitor.Params {
	return monitor.Params{VolumeThreshold: 100, SilenceTimeout: 10 * time.Second}
}

type fixture struct {
	srv     *api.Server
	capture *fakeCapture
	repo    *recording.Repository
	layout  recording.Layout
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout := recording.Layout{Root: t.TempDir()}
	repo := recording.NewRepository(recmock.NewStore(), layout)
	f := &fixture{capture: &fakeCapture{}, repo: repo, layout: layout}
	srv, err := api.New(api.Config{
		Capture:    f.capture,
		Repository: repo,
		Searcher:   search.New(repo),
		Hub:        status.NewHub(),
		MCPPath:    "/mcp",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	f.srv = srv
	return f
}

// seed writes and saves a segment captured at ts.
func (f *fixture) seed(t *testing.T, ts time.Time, size int) recording.Recording {
	t.Helper()
	p, err := f.layout.NewFilePath(ts)
	if err != nil {
		t.Fatalf("NewFilePath() error: %v", err)
	}
	if err := os.WriteFile(p, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := f.repo.Save(context.Background(), recording.FileName(ts), 12_000, int64(size))
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	return rec
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode JSON: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := api.New(api.Config{}); err == nil {
		t.Error("New() with empty config: expected error")
	}
}

func TestCaptureLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/capture/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	st := decode[map[string]any](t, rec)
	if st["state"] != "idle" || st["running"] != false {
		t.Errorf("idle state = %v", st)
	}
	if _, ok := st["started_at"]; ok {
		t.Error("started_at should be omitted while idle")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/capture/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body)
	}
	st = decode[map[string]any](t, rec)
	if st["state"] != "monitoring" || st["running"] != true || st["power_held"] != true {
		t.Errorf("running state = %v", st)
	}
	if st["silence_timeout_ms"] != float64(10000) {
		t.Errorf("silence_timeout_ms = %v, want 10000", st["silence_timeout_ms"])
	}

	rec = f.do(t, http.MethodPost, "/api/v1/capture/stop")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if f.capture.starts != 1 || f.capture.stops != 1 {
		t.Errorf("starts/stops = %d/%d, want 1/1", f.capture.starts, f.capture.stops)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/capture/start"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start status = %d, want 405", rec.Code)
	}
}

func TestCaptureStartFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.capture.startErr = errors.New("power lock unavailable")

	rec := f.do(t, http.MethodPost, "/api/v1/capture/start")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("start status = %d, want 503", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if !strings.Contains(body["error"], "power lock") {
		t.Errorf("error body = %v", body)
	}
}

func TestNavigation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ts := time.Date(2026, 3, 14, 9, 15, 0, 0, time.Local)
	first := f.seed(t, ts, 32)
	f.seed(t, ts.Add(2*time.Hour), 16)

	days := decode[[]string](t, f.do(t, http.MethodGet, "/api/v1/days"))
	if len(days) != 1 || days[0] != "2026-03-14" {
		t.Errorf("days = %v", days)
	}

	hours := decode[[]string](t, f.do(t, http.MethodGet, "/api/v1/days/2026-03-14/hours"))
	if len(hours) != 2 || hours[0] != "11:00-12:00" {
		t.Errorf("hours = %v, want newest first", hours)
	}

	recs := decode[[]recording.Recording](t, f.do(t, http.MethodGet, "/api/v1/days/2026-03-14/hours/09:00-10:00/recordings"))
	if len(recs) != 1 || recs[0].ID != first.ID {
		t.Errorf("recordings in hour = %+v", recs)
	}

	got := decode[recording.Recording](t, f.do(t, http.MethodGet, "/api/v1/recordings/1"))
	if got.FileName != first.FileName {
		t.Errorf("recording = %+v", got)
	}

	audio := f.do(t, http.MethodGet, "/api/v1/recordings/1/audio")
	if audio.Code != http.StatusOK || audio.Body.Len() != 32 {
		t.Errorf("audio status=%d len=%d, want 200/32", audio.Code, audio.Body.Len())
	}
	if ct := audio.Header().Get("Content-Type"); ct != "audio/mp4" {
		t.Errorf("audio Content-Type = %q", ct)
	}
}

func TestNavigation_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		method, target string
		want           int
	}{
		{http.MethodGet, "/api/v1/recordings/42", http.StatusNotFound},
		{http.MethodGet, "/api/v1/recordings/abc", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/recordings/0/audio", http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/recordings/42", http.StatusNotFound},
		{http.MethodGet, "/api/v1/days/not-a-day/hours", http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/days/yesterday", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/search?q=x&limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := f.do(t, tt.method, tt.target); rec.Code != tt.want {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.target, rec.Code, tt.want)
		}
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ts := time.Date(2026, 3, 14, 9, 15, 0, 0, time.Local)
	rec := f.seed(t, ts, 8)
	f.seed(t, ts.Add(time.Minute), 8)

	if got := f.do(t, http.MethodDelete, "/api/v1/recordings/1"); got.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", got.Code)
	}
	if _, err := os.Stat(rec.FilePath); !os.IsNotExist(err) {
		t.Errorf("audio file still present: %v", err)
	}
	if got := f.do(t, http.MethodGet, "/api/v1/recordings/1"); got.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", got.Code)
	}

	resp := f.do(t, http.MethodDelete, "/api/v1/days/2026-03-14")
	if resp.Code != http.StatusOK {
		t.Fatalf("delete day status = %d", resp.Code)
	}
	if body := decode[map[string]int](t, resp); body["deleted"] != 1 {
		t.Errorf("delete day body = %v, want 1 deleted", body)
	}
	if days := decode[[]string](t, f.do(t, http.MethodGet, "/api/v1/days")); len(days) != 0 {
		t.Errorf("days after delete = %v", days)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.seed(t, time.Now(), 100)

	st := decode[map[string]int64](t, f.do(t, http.MethodGet, "/api/v1/stats"))
	if st["today_count"] != 1 || st["today_duration_ms"] != 12_000 {
		t.Errorf("today stats = %v", st)
	}
	if st["storage_bytes"] != 100 {
		t.Errorf("storage_bytes = %d, want 100", st["storage_bytes"])
	}
	if st["saved_since_start"] != 3 {
		t.Errorf("saved_since_start = %d, want 3", st["saved_since_start"])
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := f.seed(t, time.Date(2026, 3, 14, 9, 15, 0, 0, time.Local), 8)
	if _, err := f.repo.SetTitle(context.Background(), rec.ID, "Budget meeting"); err != nil {
		t.Fatalf("SetTitle() error: %v", err)
	}

	results := decode[[]search.Result](t, f.do(t, http.MethodGet, "/api/v1/search?q=budget"))
	if len(results) != 1 || results[0].Recording.ID != rec.ID || results[0].Kind != search.KindExact {
		t.Errorf("search results = %+v", results)
	}

	if got := f.do(t, http.MethodGet, "/api/v1/search?q=budget&mode=semantic"); got.Code != http.StatusServiceUnavailable {
		t.Errorf("semantic search status = %d, want 503", got.Code)
	}
}

func TestHealthAndMetricsOptional(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if got := f.do(t, http.MethodGet, "/healthz"); got.Code != http.StatusNotFound {
		t.Errorf("/healthz without a health handler = %d, want 404", got.Code)
	}
	if got := f.do(t, http.MethodGet, "/metrics"); got.Code != http.StatusNotFound {
		t.Errorf("/metrics without a metrics handler = %d, want 404", got.Code)
	}
}
