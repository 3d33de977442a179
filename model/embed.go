package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrEmptyText = errors.New("cannot embed empty text")

// Embedder converts text into a fixed-dimension, L2-normalised vector.
// Implementations never retry; see Retry.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

type EmbedderOptions struct {
	Provider  string
	Model     string
	Dimension int
	BaseURL   string
	APIKey    string
}

func NewEmbedder(opts EmbedderOptions) (Embedder, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "openai":
		return NewOpenAIEmbedder(opts)
	case "ollama":
		return NewOllamaEmbedder(opts)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}

// normalize scales vec to unit length in place. Zero vectors are returned unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = float32(float64(x) / norm)
	}
	return vec
}

func checkDimension(provider string, got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("%s returned %d dimensions, configured %d", provider, got, want)
	}
	return nil
}
