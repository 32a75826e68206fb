// Package embed provides the pluggable text-embedding providers injected
// into the storage facade. The storage layer never computes embeddings
// itself.
package embed

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// DummyDimension is the vector length produced by DummyEmbedder.
const DummyDimension = 768

// DummyEmbedder produces deterministic embeddings without any provider.
// Useful for tests and local smoke runs.
type DummyEmbedder struct{}

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

// DummyEmbedding folds the input bytes into a fixed-length vector.
func DummyEmbedding(text string) []float32 {
	vec := make([]float32, DummyDimension)
	for i, ch := range []byte(text) {
		vec[i%DummyDimension] += float32(ch) / 255.0
	}
	return vec
}

// AutoEmbedder chooses a provider from env:
// MEMSTORE_EMBED_PROVIDER=openai|ollama
// MEMSTORE_EMBED_MODEL=<model string>
// Unset or unusable providers fall back to DummyEmbedder.
func AutoEmbedder() Embedder {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("MEMSTORE_EMBED_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("MEMSTORE_EMBED_MODEL"))

	switch provider {
	case "openai":
		if e, err := NewOpenAIEmbedder(model); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(model); err == nil {
			return e
		}
	}
	return DummyEmbedder{}
}
