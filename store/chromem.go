package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	"ragchat/types"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	metaSource = "source"
	metaKind   = "kind"
	metaYear   = "year"
	metaIndex  = "chunk_index"
)

// ChromemIndex is an embedded index backed by one chromem-go collection.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
}

// NewChromemIndex opens a persistent database under path, or an in-memory one when path is empty.
func NewChromemIndex(path, name string) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}

	c, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}
	return &ChromemIndex{db: db, collection: c, name: name}, nil
}

// EnsureIndex queries a non-empty collection with a vector of the wanted dimension.
// chromem compares vector lengths, so a mismatch surfaces as a query error.
func (c *ChromemIndex) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return &types.IndexConfigError{Index: c.name, Want: dimension, Err: errors.New("dimension must be positive")}
	}
	if c.collection.Count() == 0 {
		return nil
	}
	unit := make([]float32, dimension)
	unit[0] = 1
	if _, err := c.collection.QueryEmbedding(ctx, unit, 1, nil, nil); err != nil {
		return &types.IndexConfigError{Index: c.name, Want: dimension, Err: err}
	}
	return nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, meta []types.ChunkMeta) error {
	if err := checkUpsertArgs(ids, vectors, meta); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		m := meta[i]
		md := map[string]string{
			metaSource: m.Source,
			metaKind:   string(m.Kind),
			metaIndex:  strconv.Itoa(m.ChunkIndex),
		}
		if m.Year != nil {
			md[metaYear] = strconv.Itoa(*m.Year)
		}
		docs[i] = chromem.Document{
			ID:        id,
			Content:   m.Content,
			Metadata:  md,
			Embedding: vectors[i],
		}
	}

	if err := c.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Prune walks the dense chunk ids from keep upwards until one is missing.
func (c *ChromemIndex) Prune(ctx context.Context, source string, keep int) error {
	var stale []string
	for i := keep; ; i++ {
		id := types.ChunkID(source, i)
		if _, err := c.collection.GetByID(ctx, id); err != nil {
			break
		}
		stale = append(stale, id)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, stale...); err != nil {
		return fmt.Errorf("prune %s: %w", source, err)
	}
	log.Debug().Str("file", source).Int("removed", len(stale)).Msg("pruned stale chunks")
	return nil
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, filter *types.Filter) ([]types.RetrievalResult, error) {
	if len(vector) == 0 {
		return nil, errors.New("empty query vector")
	}
	n := min(topK, c.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if filter != nil {
		where = make(map[string]string)
		if filter.Year != nil {
			where[metaYear] = strconv.Itoa(*filter.Year)
		}
		if filter.Kind != "" {
			where[metaKind] = string(filter.Kind)
		}
		if filter.Source != "" {
			where[metaSource] = filter.Source
		}
		if len(where) == 0 {
			where = nil
		}
	}

	res, err := c.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, err
	}

	results := make([]types.RetrievalResult, 0, len(res))
	for _, r := range res {
		idx, _ := strconv.Atoi(r.Metadata[metaIndex])
		meta := types.ChunkMeta{
			Content:    r.Content,
			Source:     r.Metadata[metaSource],
			Kind:       types.ChunkKind(r.Metadata[metaKind]),
			ChunkIndex: idx,
		}
		if y, err := strconv.Atoi(r.Metadata[metaYear]); err == nil {
			meta.Year = &y
		}
		results = append(results, types.RetrievalResult{
			ID:    r.ID,
			Meta:  meta,
			Score: float64(r.Similarity),
		})
	}
	return results, nil
}

func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.collection.Count(), nil
}

// Close is a no-op; a persistent chromem db writes through on every change.
func (c *ChromemIndex) Close() error { return nil }
