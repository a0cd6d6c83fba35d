// Package vecstore implements the similarity index used for
// retrieval-augmented translation: a nearest-neighbor store of past
// (source, translation) pairs, queried per entry to give the generation
// model consistent terminology to imitate.
//
// The store is deliberately an enhancement, not a correctness requirement:
// every failure is surfaced as a typed *BackendError so the orchestrator can
// degrade to an empty result and keep translating.
package vecstore

import (
	"context"
	"errors"
	"fmt"
)

// Record is one stored translation memory.
type Record struct {
	// Source is the source-language text, the embedded lookup key.
	Source string
	// Translation is the target-language text.
	Translation string
	// Language is the target language code.
	Language string
	// Context is the usage hint recorded with the pair.
	Context string
}

// Match is one nearest-neighbor result, Similarity in [0,1].
type Match struct {
	Source      string
	Translation string
	Similarity  float64
}

// Embedder turns text into a vector. The provider client satisfies this, so
// exactly one component knows which embedding model is active.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is the backend-agnostic similarity index contract.
type Index interface {
	// Init establishes the connection and schema. Idempotent.
	Init(ctx context.Context) error
	// Add embeds and upserts a record. Re-adding the same (language,
	// source) pair overwrites the previous record.
	Add(ctx context.Context, rec Record) error
	// Query returns up to limit records nearest to text, restricted to
	// language, ordered by descending similarity.
	Query(ctx context.Context, text, language string, limit int) ([]Match, error)
	// Close releases resources. Safe to call multiple times.
	Close() error
}

// BackendError is a failure in the vector backend or its embedder.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ErrNotConfigured reports that the similarity index was requested but its
// connection parameters are missing.
var ErrNotConfigured = errors.New("vector backend not configured")

// Config selects and parameterizes a backend.
type Config struct {
	// Backend names the backend implementation; "qdrant" is the default.
	Backend string
	// URL is the backend base URL (e.g. "http://localhost:6333").
	URL string
	// APIKey is an optional backend API key.
	APIKey string
	// Collection is the collection name; "weft" by default.
	Collection string
	// Dimension is the embedding vector size. Zero means probe the
	// embedder once at Init to discover it.
	Dimension int
}

// New builds the configured backend. The embedder is injected so the index
// never decides which embedding model to use.
func New(cfg Config, emb Embedder) (Index, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	switch cfg.Backend {
	case "", "qdrant":
		return newQdrant(cfg, emb), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
