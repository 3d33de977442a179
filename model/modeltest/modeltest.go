// Package modeltest provides in-process Embedder and Generator implementations for tests.
package modeltest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"ragchat/model"
)

// HashEmbedder embeds text as a normalised bag of hashed words, so texts sharing words
// are close under cosine similarity.
type HashEmbedder struct {
	Dim int
	// Fail, when set, is consulted before every call; a non-nil result is returned as the error.
	Fail func(text string, call int) error

	calls atomic.Int64
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	call := int(e.calls.Add(1))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, model.ErrEmptyText
	}
	if e.Fail != nil {
		if err := e.Fail(text, call); err != nil {
			return nil, err
		}
	}

	vec := make([]float32, e.Dimension())
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,;:!?\"'()")))
		vec[h.Sum32()%uint32(len(vec))]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		n := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (e *HashEmbedder) Dimension() int {
	if e.Dim <= 0 {
		return 64
	}
	return e.Dim
}

func (e *HashEmbedder) Name() string { return "hash" }

// Calls reports how many times Embed was invoked.
func (e *HashEmbedder) Calls() int { return int(e.calls.Load()) }

// Generator answers each request with Respond and records every request it saw.
type Generator struct {
	Respond func(req model.Request) (string, error)

	mu       sync.Mutex
	requests []model.Request
}

func (g *Generator) Generate(ctx context.Context, req model.Request) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.Respond == nil {
		return "", nil
	}
	return g.Respond(req)
}

func (g *Generator) Name() string { return "fake" }

func (g *Generator) Requests() []model.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Request(nil), g.requests...)
}

// LastUserMessage returns the content of the final user message of req.
func LastUserMessage(req model.Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == model.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
