package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ragchat/types"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/schema"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaEmbedder calls a local Ollama server through langchaingo.
type OllamaEmbedder struct {
	embedder *embeddings.EmbedderImpl
	model    string
	dim      int
}

func NewOllamaEmbedder(opts EmbedderOptions) (*OllamaEmbedder, error) {
	if opts.Dimension <= 0 {
		return nil, errors.New("ollama embeddings need an explicit dimension")
	}
	llm, err := newOllama(opts.BaseURL, opts.Model)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &OllamaEmbedder{embedder: embedder, model: opts.Model, dim: opts.Dimension}, nil
}

func newOllama(serverURL, model string) (*ollama.LLM, error) {
	if serverURL == "" {
		serverURL = defaultOllamaURL
	}
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("init ollama %s: %w", model, err)
	}
	return llm, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, embeddingError("ollama", err)
	}
	if err := checkDimension("ollama", len(vec), e.dim); err != nil {
		return nil, &types.EmbeddingServiceError{Provider: "ollama", Err: err}
	}
	return normalize(vec), nil
}

func (e *OllamaEmbedder) Dimension() int { return e.dim }

func (e *OllamaEmbedder) Name() string { return "ollama/" + e.model }

type OllamaGenerator struct {
	llm   *ollama.LLM
	model string
}

func NewOllamaGenerator(opts GeneratorOptions) (*OllamaGenerator, error) {
	llm, err := newOllama(opts.BaseURL, opts.Model)
	if err != nil {
		return nil, err
	}
	return &OllamaGenerator{llm: llm, model: opts.Model}, nil
}

func (g *OllamaGenerator) Name() string { return "ollama/" + g.model }

func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llms.TextParts(ollamaRole(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.Model != "" {
		callOpts = append(callOpts, llms.WithModel(req.Model))
	}
	if req.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := g.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("ollama returned no choices")
	}
	return resp.Choices[0].Content, nil
}

func ollamaRole(r Role) schema.ChatMessageType {
	switch r {
	case RoleSystem:
		return schema.ChatMessageTypeSystem
	case RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}
