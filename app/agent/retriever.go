package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"ragchat/model"
	"ragchat/store"
	"ragchat/types"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	semanticWeight = 0.5
	vectorWeight   = 0.3
	positionWeight = 0.2
)

const judgeSystemPrompt = `You judge how relevant a passage from a shareholder letter is to a question.
Read the whole passage. A passage is relevant only if it helps answer the question.
Respond with ONLY a JSON object of the form {"score": <number between 0 and 1>}.`

type RetrieverOptions struct {
	TopK int
	TopN int
	// JudgeModel overrides the generator's default model for rerank calls.
	JudgeModel  string
	Concurrency int
	Backoff     model.Backoff
}

// Retriever finds candidate chunks by vector similarity and reorders them with an LLM judge.
type Retriever struct {
	embedder model.Embedder
	index    store.VectorIndex
	judge    model.Generator
	opts     RetrieverOptions
}

func NewRetriever(embedder model.Embedder, index store.VectorIndex, judge model.Generator, opts RetrieverOptions) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Backoff.Attempts == 0 {
		opts.Backoff = model.DefaultBackoff
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		judge:    judge,
		opts:     opts,
	}
}

// Retrieve returns the reranked top chunks for question, or types.ErrRetrievalEmpty when
// the index has nothing close to it.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]types.RetrievalResult, error) {
	candidates, err := r.Search(ctx, question, nil)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, types.ErrRetrievalEmpty
	}
	return r.Rerank(ctx, question, candidates)
}

// Search is the coarse nearest-neighbour stage.
func (r *Retriever) Search(ctx context.Context, question string, filter *types.Filter) ([]types.RetrievalResult, error) {
	start := time.Now()
	vec, stats, err := model.EmbedWithRetry(ctx, r.embedder, r.opts.Backoff, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := r.index.Query(ctx, vec, r.opts.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	log.Ctx(ctx).Debug().
		Int("candidates", len(results)).
		Int("embed_attempts", stats.Attempts).
		Dur("elapsed", time.Since(start)).
		Msg("vector search")
	return results, nil
}

// Rerank scores every candidate as 0.5*judge + 0.3*vector similarity + 0.2*rank position
// and keeps the best TopN. A judgement that cannot be parsed counts as zero.
func (r *Retriever) Rerank(ctx context.Context, question string, candidates []types.RetrievalResult) ([]types.RetrievalResult, error) {
	start := time.Now()
	semantic := make([]float64, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, c := range candidates {
		i, c := i, c // per-iteration copies (module targets go 1.21)
		g.Go(func() error {
			score, err := r.judgeOne(gctx, question, c.Meta.Content)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Ctx(ctx).Warn().Err(err).Str("chunk", c.ID).Msg("relevance judgement failed")
				return nil
			}
			semantic[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := float64(len(candidates))
	out := make([]types.RetrievalResult, len(candidates))
	for i, c := range candidates {
		position := 1 - float64(i)/n
		score := semanticWeight*semantic[i] + vectorWeight*c.Score + positionWeight*position
		c.RerankScore = &score
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	if len(out) > r.opts.TopN {
		out = out[:r.opts.TopN]
	}

	log.Ctx(ctx).Debug().Int("kept", len(out)).Dur("elapsed", time.Since(start)).Msg("rerank")
	return out, nil
}

type judgement struct {
	Score *float64 `json:"score"`
}

func (r *Retriever) judgeOne(ctx context.Context, question, passage string) (float64, error) {
	raw, err := r.judge.Generate(ctx, model.Request{
		Model: r.opts.JudgeModel,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: judgeSystemPrompt},
			{Role: model.RoleUser, Content: fmt.Sprintf("Question: %s\n\nPassage:\n%s", question, passage)},
		},
		JSON: true,
	})
	if err != nil {
		return 0, err
	}
	return parseJudgement(raw)
}

func parseJudgement(raw string) (float64, error) {
	obj, err := model.ExtractJSON(model.StripFences(raw))
	if err != nil {
		return 0, err
	}
	var j judgement
	if err := json.Unmarshal([]byte(obj), &j); err != nil {
		return 0, err
	}
	if j.Score == nil {
		return 0, fmt.Errorf("judgement has no score: %s", obj)
	}
	return min(max(*j.Score, 0), 1), nil
}
