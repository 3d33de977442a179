package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ragchat/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// PostgresIndex stores chunks in one pgvector table named after the index.
type PostgresIndex struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresIndex(ctx context.Context, connStr, name string) (*PostgresIndex, error) {
	if err := validIdentifier(name); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresIndex{
		pool:  pool,
		table: name,
	}, nil
}

// EnsureIndex reads the declared vector dimension from the catalog, so a mismatch is
// detected even when the table was created by another process.
func (p *PostgresIndex) EnsureIndex(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return &types.IndexConfigError{Index: p.table, Want: dimension, Err: errors.New("dimension must be positive")}
	}
	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	var have int
	err := p.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`,
		p.table).Scan(&have)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return p.createTable(ctx, dimension)
	case err != nil:
		return fmt.Errorf("inspect index %s: %w", p.table, err)
	case have != dimension:
		return &types.IndexConfigError{Index: p.table, Want: dimension, Have: have}
	}
	return nil
}

func (p *PostgresIndex) createTable(ctx context.Context, dimension int) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		embedding vector(%[2]d) NOT NULL,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('text','table')),
		year INTEGER,
		chunk_index INTEGER NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops);

	CREATE INDEX IF NOT EXISTS %[1]s_source_idx ON %[1]s(source, chunk_index);
	CREATE INDEX IF NOT EXISTS %[1]s_year_idx ON %[1]s(year);
	`, p.table, dimension)

	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create index %s: %w", p.table, err)
	}
	log.Info().Str("index", p.table).Int("dimension", dimension).Msg("vector index created")
	return nil
}

func (p *PostgresIndex) Upsert(ctx context.Context, ids []string, vectors [][]float32, meta []types.ChunkMeta) error {
	if err := checkUpsertArgs(ids, vectors, meta); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, content, source, kind, year, chunk_index, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			kind = EXCLUDED.kind,
			year = EXCLUDED.year,
			chunk_index = EXCLUDED.chunk_index,
			updated_at = EXCLUDED.updated_at`, p.table)

	batch := &pgx.Batch{}
	for i, id := range ids {
		m := meta[i]
		batch.Queue(query, id, pgvector.NewVector(vectors[i]), m.Content, m.Source, string(m.Kind), m.Year, m.ChunkIndex)
	}

	br := p.pool.SendBatch(ctx, batch)
	for i := range ids {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert %s: %w", ids[i], err)
		}
	}
	return br.Close()
}

func (p *PostgresIndex) Prune(ctx context.Context, source string, keep int) error {
	tag, err := p.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE source = $1 AND chunk_index >= $2`, p.table),
		source, keep)
	if err != nil {
		return err
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Debug().Str("file", source).Int64("removed", n).Msg("pruned stale chunks")
	}
	return nil
}

func (p *PostgresIndex) Query(ctx context.Context, vector []float32, topK int, filter *types.Filter) ([]types.RetrievalResult, error) {
	if len(vector) == 0 {
		return nil, errors.New("empty query vector")
	}
	if topK <= 0 {
		return nil, nil
	}

	query, args := buildSearch(p.table, pgvector.NewVector(vector), topK, filter)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.RetrievalResult
	for rows.Next() {
		var (
			r    types.RetrievalResult
			kind string
		)
		if err := rows.Scan(
			&r.ID,
			&r.Meta.Content,
			&r.Meta.Source,
			&kind,
			&r.Meta.Year,
			&r.Meta.ChunkIndex,
			&r.Score); err != nil {
			return nil, err
		}
		r.Meta.Kind = types.ChunkKind(kind)
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildSearch renders the similarity query. Similarity is 1 - cosine distance.
func buildSearch(table string, vector pgvector.Vector, topK int, filter *types.Filter) (string, []any) {
	args := []any{vector}
	var where []string
	if filter != nil {
		if filter.Year != nil {
			args = append(args, *filter.Year)
			where = append(where, fmt.Sprintf("year = $%d", len(args)))
		}
		if filter.Kind != "" {
			args = append(args, string(filter.Kind))
			where = append(where, fmt.Sprintf("kind = $%d", len(args)))
		}
		if filter.Source != "" {
			args = append(args, filter.Source)
			where = append(where, fmt.Sprintf("source = $%d", len(args)))
		}
	}
	args = append(args, topK)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, content, source, kind, year, chunk_index, 1 - (embedding <=> $1) AS similarity FROM %s", table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1 LIMIT $%d", len(args))
	return sb.String(), args
}

func (p *PostgresIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table)).Scan(&n)
	return n, err
}

func (p *PostgresIndex) Close() error {
	if p.pool != nil {
		p.pool.Close()
		log.Info().Msg("postgres connection pool is closed")
	}
	return nil
}
