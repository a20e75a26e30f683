// Package mock provides an in-memory [recording.Store] for tests.
//
// The store keeps rows in a map, records every method call, and returns the
// configured *Err fields when they are non-nil. It also implements
// [recording.VectorIndex] using squared euclidean distance.
//
//	store := mock.NewStore()
//	store.UpdateErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Update"); got != 1 {
//	    t.Errorf("expected 1 Update call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/voxlog/pkg/recording"
)

var (
	_ recording.Store       = (*Store)(nil)
	_ recording.VectorIndex = (*Store)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is an in-memory recording store.
type Store struct {
	mu     sync.Mutex
	calls  []Call
	rows   map[int64]recording.Recording
	vecs   map[int64][]float32
	nextID int64

	InsertErr error
	UpdateErr error
	GetErr    error
	ListErr   error
	DeleteErr error
	SearchErr error
	PingErr   error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{rows: map[int64]recording.Recording{}, vecs: map[int64][]float32{}}
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Rows returns a snapshot of all stored rows ordered by id.
func (s *Store) Rows() []recording.Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recording.Recording, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b recording.Recording) int { return int(a.ID - b.ID) })
	return out
}

// Embedding returns the vector stored for id, if any.
func (s *Store) Embedding(id int64) ([]float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vecs[id]
	return v, ok
}

func (s *Store) record(method string, args ...any) {
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

func (s *Store) Insert(_ context.Context, rec recording.Recording) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Insert", rec)
	if s.InsertErr != nil {
		return 0, s.InsertErr
	}
	s.nextID++
	rec.ID = s.nextID
	s.rows[rec.ID] = rec
	return rec.ID, nil
}

func (s *Store) Update(_ context.Context, rec recording.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Update", rec)
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.rows[rec.ID]; !ok {
		return recording.ErrNotFound
	}
	s.rows[rec.ID] = rec
	return nil
}

func (s *Store) Get(_ context.Context, id int64) (recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Get", id)
	if s.GetErr != nil {
		return recording.Recording{}, s.GetErr
	}
	rec, ok := s.rows[id]
	if !ok {
		return recording.Recording{}, recording.ErrNotFound
	}
	return rec, nil
}

func (s *Store) Days(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Days")
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := []string{}
	for _, r := range s.rows {
		if !slices.Contains(out, r.DayFolder) {
			out = append(out, r.DayFolder)
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out, nil
}

func (s *Store) Hours(_ context.Context, day string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Hours", day)
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	out := []string{}
	for _, r := range s.rows {
		if r.DayFolder == day && !slices.Contains(out, r.HourFolder) {
			out = append(out, r.HourFolder)
		}
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out, nil
}

func (s *Store) InHour(_ context.Context, day, hour string) ([]recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("InHour", day, hour)
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.filter(func(r recording.Recording) bool {
		return r.DayFolder == day && r.HourFolder == hour
	}, 0), nil
}

func (s *Store) ByDay(_ context.Context, day string) ([]recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ByDay", day)
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.filter(func(r recording.Recording) bool { return r.DayFolder == day }, 0), nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Delete", id)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.rows, id)
	delete(s.vecs, id)
	return nil
}

func (s *Store) DeleteDay(_ context.Context, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteDay", day)
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for id, r := range s.rows {
		if r.DayFolder == day {
			delete(s.rows, id)
			delete(s.vecs, id)
		}
	}
	return nil
}

func (s *Store) DayStats(_ context.Context, day string) (recording.DayStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DayStats", day)
	if s.ListErr != nil {
		return recording.DayStats{}, s.ListErr
	}
	var st recording.DayStats
	for _, r := range s.rows {
		if r.DayFolder == day {
			st.Count++
			st.DurationMs += r.DurationMs
		}
	}
	return st, nil
}

func (s *Store) Search(_ context.Context, query string, limit int) ([]recording.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Search", query, limit)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	q := strings.ToLower(query)
	return s.filter(func(r recording.Recording) bool {
		return strings.Contains(strings.ToLower(r.AITitle), q) ||
			strings.Contains(strings.ToLower(r.Transcription), q)
	}, limit), nil
}

func (s *Store) IndexEmbedding(_ context.Context, id int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("IndexEmbedding", id, len(embedding))
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	if _, ok := s.rows[id]; !ok {
		return recording.ErrNotFound
	}
	s.vecs[id] = slices.Clone(embedding)
	return nil
}

func (s *Store) SemanticSearch(_ context.Context, embedding []float32, limit int) ([]recording.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SemanticSearch", len(embedding), limit)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	out := []recording.Match{}
	for id, v := range s.vecs {
		if len(v) != len(embedding) {
			continue
		}
		var d float64
		for i := range v {
			diff := float64(v[i] - embedding[i])
			d += diff * diff
		}
		out = append(out, recording.Match{Recording: s.rows[id], Distance: d})
	}
	slices.SortFunc(out, func(a, b recording.Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return int(a.Recording.ID - b.Recording.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Ping")
	return s.PingErr
}

func (s *Store) Close() error { return nil }

// filter returns matching rows newest first. Must be called with s.mu held.
func (s *Store) filter(keep func(recording.Recording) bool, limit int) []recording.Recording {
	out := []recording.Recording{}
	for _, r := range s.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b recording.Recording) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
