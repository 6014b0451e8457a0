// Package embeddings provides embedding generation for the semantic search
// tier. The embedding model is opaque to the rest of the system: text in,
// fixed-length vector out.
package embeddings

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates a bad provider configuration.
	ErrInvalidConfig = errors.New("embeddings: invalid config")

	// ErrEmptyInput indicates an empty text batch.
	ErrEmptyInput = errors.New("embeddings: empty input")
)

// Embedder turns text into vectors.
type Embedder interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch of documents.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is an Embedder with lifecycle and model metadata.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the configured model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds provider configuration.
type Config struct {
	// Model is the embedding model name.
	Model string
	// CacheDir caches downloaded model files.
	CacheDir string
}

// NewProvider creates the local ONNX-backed provider.
func NewProvider(cfg Config) (Provider, error) {
	return newFastEmbedProvider(cfg)
}
