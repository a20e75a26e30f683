package whisper

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrModelMissing is returned by [Model.Verify] when the model file is absent
// or smaller than expected (usually an interrupted download).
var ErrModelMissing = errors.New("whisper: model file missing or incomplete")

// Model is an entry of the built-in ggml model catalog.
type Model struct {
	ID       string
	FileName string
	MinBytes int64
}

const mib = 1 << 20

var (
	// ModelBase is the small default model.
	ModelBase = Model{ID: "base", FileName: "ggml-base-q8_0.bin", MinBytes: 50 * mib}

	// ModelLargeV3Turbo trades speed for accuracy.
	ModelLargeV3Turbo = Model{ID: "large_v3_turbo", FileName: "ggml-large-v3-turbo-q8_0.bin", MinBytes: 500 * mib}
)

// Models lists the catalog in display order.
var Models = []Model{ModelBase, ModelLargeV3Turbo}

// ModelByID returns the catalog entry for id. Unknown or empty ids fall back
// to [ModelBase].
func ModelByID(id string) Model {
	for _, m := range Models {
		if m.ID == id {
			return m
		}
	}
	return ModelBase
}

// Path returns where the model is expected inside dir.
func (m Model) Path(dir string) string { return filepath.Join(dir, m.FileName) }

// Verify checks that the model exists in dir and is at least MinBytes large.
// It returns the model path.
func (m Model) Verify(dir string) (string, error) {
	p := m.Path(dir)
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrModelMissing, p, err)
	}
	if info.Size() < m.MinBytes {
		return "", fmt.Errorf("%w: %s is %d bytes, want at least %d", ErrModelMissing, p, info.Size(), m.MinBytes)
	}
	return p, nil
}
