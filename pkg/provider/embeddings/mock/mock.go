// Package mock provides a test double for the embeddings.Provider interface.
//
//	p := &mock.Provider{Vector: []float32{0.1, 0.2, 0.3}}
//	vec, _ := p.Embed(ctx, "hello world")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxlog/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vector is returned by Embed when Vectors has no entry for the text.
	Vector []float32

	// Vectors maps input text to its vector.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed.
	Err error

	// Model is returned by ModelID. Defaults to "mock-embed".
	Model string

	texts []string
}

// Embed records text and returns the configured vector.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	v, ok := p.Vectors[text]
	if !ok {
		v = p.Vector
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Dimensions returns the length of Vector.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Vector)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-embed"
	}
	return p.Model
}

// Texts returns every text passed to Embed, in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}
