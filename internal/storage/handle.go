// Package storage owns the process-wide persistence handle.
//
// The database is opened lazily on first use behind a mutex, so the capture
// loop and the enrichment workers share one connection pool. The process
// registers its handle once with [InitShared]; later code retrieves it with
// [Shared].
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/voxlog/pkg/recording"
	"github.com/MrWong99/voxlog/pkg/recording/postgres"
	"github.com/MrWong99/voxlog/pkg/recording/sqlite"
)

var (
	// ErrNotInitialised is returned by [Shared] before [InitShared].
	ErrNotInitialised = errors.New("storage: not initialised")

	// ErrAlreadyInitialised is returned by a second [InitShared].
	ErrAlreadyInitialised = errors.New("storage: already initialised")

	// ErrClosed is returned by a Handle after Close.
	ErrClosed = errors.New("storage: handle closed")
)

// Opener connects to a row store.
type Opener func(ctx context.Context) (recording.Store, error)

// SQLite opens the embedded database at path, creating its folder.
func SQLite(path string) Opener {
	return func(ctx context.Context) (recording.Store, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create database folder: %w", err)
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Postgres connects to dsn. dims is the width of the embedding column.
func Postgres(dsn string, dims int) Opener {
	return func(ctx context.Context) (recording.Store, error) {
		store, err := postgres.NewStore(ctx, dsn, dims)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Handle lazily opens a store and wraps it in a [recording.Repository].
// It is safe for concurrent use. A failed open is retried on the next call.
type Handle struct {
	open   Opener
	layout recording.Layout

	mu     sync.Mutex
	store  recording.Store
	repo   *recording.Repository
	closed bool
}

// NewHandle returns an unopened Handle.
func NewHandle(layout recording.Layout, open Opener) *Handle {
	return &Handle{open: open, layout: layout}
}

// Repository returns the repository, opening the store on first use.
func (h *Handle) Repository(ctx context.Context) (*recording.Repository, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.repo != nil {
		return h.repo, nil
	}
	store, err := h.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	h.store = store
	h.repo = recording.NewRepository(store, h.layout)
	slog.Info("storage: opened", "root", h.layout.Root)
	return h.repo, nil
}

// VectorIndex returns the store as a [recording.VectorIndex] when it
// supports one.
func (h *Handle) VectorIndex(ctx context.Context) (recording.VectorIndex, bool, error) {
	repo, err := h.Repository(ctx)
	if err != nil {
		return nil, false, err
	}
	vi, ok := repo.Store().(recording.VectorIndex)
	return vi, ok, nil
}

// Ping opens the store if needed and checks that it responds.
func (h *Handle) Ping(ctx context.Context) error {
	repo, err := h.Repository(ctx)
	if err != nil {
		return err
	}
	return repo.Store().Ping(ctx)
}

// Layout returns the file layout of the handle.
func (h *Handle) Layout() recording.Layout { return h.layout }

// Close closes the store and, when h is the shared handle, unregisters it.
func (h *Handle) Close() error {
	h.mu.Lock()
	store := h.store
	h.store, h.repo, h.closed = nil, nil, true
	h.mu.Unlock()

	sharedMu.Lock()
	if shared == h {
		shared = nil
	}
	sharedMu.Unlock()

	if store == nil {
		return nil
	}
	return store.Close()
}

var (
	sharedMu sync.Mutex
	shared   *Handle
)

// InitShared registers h as the process-wide handle. It fails with
// [ErrAlreadyInitialised] while another handle is registered.
func InitShared(h *Handle) error {
	if h == nil {
		return errors.New("storage: nil handle")
	}
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		return ErrAlreadyInitialised
	}
	shared = h
	return nil
}

// Shared returns the registered handle.
func Shared() (*Handle, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		return nil, ErrNotInitialised
	}
	return shared, nil
}
