package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"ragchat/loader/internal"
	"ragchat/model"
	"ragchat/store"
	"ragchat/types"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	// Concurrency bounds the in-flight embedding calls of one document.
	Concurrency int
	// RPS throttles embedding calls across the whole batch. Zero disables throttling.
	RPS     float64
	Backoff model.Backoff
}

type Service struct {
	index       store.VectorIndex
	embedder    model.Embedder
	strategy    internal.ChunkingStrategy
	backoff     model.Backoff
	concurrency int
	limiter     *rate.Limiter
}

func New(index store.VectorIndex, embedder model.Embedder, strategy internal.ChunkingStrategy, opts Options) *Service {
	concurrency := max(opts.Concurrency, 1)
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	backoff := opts.Backoff
	if backoff.Attempts == 0 {
		backoff = model.DefaultBackoff
	}
	return &Service{
		index:       index,
		embedder:    embedder,
		strategy:    strategy,
		backoff:     backoff,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, concurrency),
	}
}

type Report struct {
	Documents int
	Chunks    int
	Skipped   []string
	Elapsed   time.Duration
}

// IngestDir ingests every supported file of dir, one document at a time. A document that
// fails is logged and skipped; only cancellation aborts the batch.
func (s *Service) IngestDir(ctx context.Context, dir string) (Report, error) {
	start := time.Now()
	var report Report

	entries, err := os.ReadDir(dir)
	if err != nil {
		return report, fmt.Errorf("read source directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !internal.Supported(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}

		n, err := s.IngestFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report.Elapsed = time.Since(start)
				return report, err
			}
			log.Error().Err(err).Str("file", entry.Name()).Msg("document skipped")
			report.Skipped = append(report.Skipped, entry.Name())
			continue
		}
		report.Documents++
		report.Chunks += n
	}

	report.Elapsed = time.Since(start)
	log.Info().
		Int("documents", report.Documents).
		Int("chunks", report.Chunks).
		Int("skipped", len(report.Skipped)).
		Dur("elapsed", report.Elapsed).
		Msg("ingestion finished")
	return report, nil
}

func (s *Service) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	doc := types.Document{FileName: filepath.Base(path), Content: data}
	if info, err := os.Stat(path); err == nil {
		doc.UpdatedAt = info.ModTime()
	}
	return s.Ingest(ctx, doc)
}

// Ingest extracts, chunks, embeds and upserts one document, then prunes chunks left over
// from a longer previous version. It returns the number of chunks written.
func (s *Service) Ingest(ctx context.Context, doc types.Document) (int, error) {
	start := time.Now()

	text, pages, err := internal.Extract(doc.FileName, doc.Content)
	if err != nil {
		return 0, err
	}
	doc.Pages = pages
	if doc.Year == nil {
		doc.Year = internal.InferYear(doc.FileName, text)
	}

	chunks := s.strategy.Chunk(doc, text)
	if len(chunks) == 0 {
		return 0, &types.ExtractionError{FileName: doc.FileName, Err: internal.ErrNoText}
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", doc.FileName, err)
	}

	ids := make([]string, len(chunks))
	metas := make([]types.ChunkMeta, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		metas[i] = c.Meta()
	}
	if err := s.index.Upsert(ctx, ids, vectors, metas); err != nil {
		return 0, fmt.Errorf("upsert %s: %w", doc.FileName, err)
	}
	if err := s.index.Prune(ctx, doc.FileName, len(chunks)); err != nil {
		return 0, fmt.Errorf("prune %s: %w", doc.FileName, err)
	}

	ev := log.Info().
		Str("file", doc.FileName).
		Int("pages", pages).
		Int("chunks", len(chunks)).
		Dur("elapsed", time.Since(start))
	if doc.Year != nil {
		ev = ev.Int("year", *doc.Year)
	}
	ev.Msg("document indexed")
	return len(chunks), nil
}

// embedChunks embeds in parallel. Results land at the chunk's own position, so the output
// order never depends on completion order.
func (s *Service) embedChunks(ctx context.Context, chunks []types.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range chunks {
		i, c := i, c // per-iteration copies (module targets go 1.21)
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			vec, stats, err := model.EmbedWithRetry(gctx, s.embedder, s.backoff, c.Content)
			if stats.Attempts > 1 {
				log.Debug().Str("chunk", c.ID).Int("attempts", stats.Attempts).Dur("elapsed", stats.Elapsed).Msg("embedding retried")
			}
			if err != nil {
				return fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (s *Service) Watch(ctx context.Context, w *internal.Watcher) error {
	files := make(chan string, 10)

	var (
		wg       sync.WaitGroup
		watchErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(files)
		watchErr = w.Watch(ctx, files)
	}()

	for path := range files {
		if _, err := s.IngestFile(ctx, path); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Str("file", filepath.Base(path)).Msg("document skipped")
		}
	}
	// drain so the watcher can observe cancellation
	for range files {
	}
	wg.Wait()
	return watchErr
}

// Run executes fn with a context cancelled on SIGINT/SIGTERM and waits up to
// shutdownTimeout for it to return after the signal.
func Run(shutdownTimeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-sigch:
		log.Info().Msg("received shutdown signal, shutting down gracefully")
	}

	cancel()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		log.Info().Msg("loader stopped")
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-timer.C:
		return errors.New("timeout waiting for loader to stop")
	}
}
