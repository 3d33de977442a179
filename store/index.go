package store

import (
	"context"
	"fmt"
	"regexp"

	"ragchat/types"
)

// VectorIndex is a named similarity index over chunk embeddings. Writes overwrite by id.
type VectorIndex interface {
	// EnsureIndex creates the index for cosine similarity if missing. An existing index with
	// another dimension is an *types.IndexConfigError.
	EnsureIndex(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, ids []string, vectors [][]float32, meta []types.ChunkMeta) error
	// Prune removes the chunks of source whose index is keep or higher.
	Prune(ctx context.Context, source string, keep int) error
	// Query returns up to topK nearest chunks, best first. No hits is not an error.
	Query(ctx context.Context, vector []float32, topK int, filter *types.Filter) ([]types.RetrievalResult, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

const (
	BackendPostgres = "postgres"
	BackendChromem  = "chromem"
)

type Options struct {
	Backend     string
	Name        string
	DatabaseURL string
	ChromemPath string // empty keeps the chromem index in memory
}

func Open(ctx context.Context, opts Options) (VectorIndex, error) {
	switch opts.Backend {
	case BackendPostgres:
		return NewPostgresIndex(ctx, opts.DatabaseURL, opts.Name)
	case BackendChromem:
		return NewChromemIndex(opts.ChromemPath, opts.Name)
	default:
		return nil, fmt.Errorf("unknown index backend %q", opts.Backend)
	}
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

func validIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid index name %q", name)
	}
	return nil
}

func checkUpsertArgs(ids []string, vectors [][]float32, meta []types.ChunkMeta) error {
	if len(ids) != len(vectors) || len(ids) != len(meta) {
		return fmt.Errorf("upsert: %d ids, %d vectors, %d metadata entries", len(ids), len(vectors), len(meta))
	}
	return nil
}
