package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"ragchat/types"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func newOpenAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}

func NewOpenAIEmbedder(opts EmbedderOptions) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(opts.APIKey, opts.BaseURL)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	dim := opts.Dimension
	if dim == 0 {
		dim = 1536
		if model == "text-embedding-3-large" {
			dim = 3072
		}
	}
	return &OpenAIEmbedder{client: client, model: model, dim: dim}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, embeddingError("openai", err)
	}
	if len(resp.Data) == 0 {
		return nil, &types.EmbeddingServiceError{Provider: "openai", Err: errors.New("no embedding data returned")}
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	if err := checkDimension("openai", len(vec), e.dim); err != nil {
		return nil, &types.EmbeddingServiceError{Provider: "openai", Err: err}
	}
	return normalize(vec), nil
}

func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Name() string { return "openai/" + e.model }

// embeddingError classifies a client failure. Rate limits, server errors and network
// failures are retryable. Cancellation, client errors and anything else without an HTTP
// status (an unknown ollama model, say) are not.
func embeddingError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &types.EmbeddingServiceError{Provider: provider, Err: err}
	}
	status := httpStatus(err)
	return &types.EmbeddingServiceError{
		Provider:  provider,
		Status:    status,
		Retryable: isTransientStatus(status) || (status == 0 && isNetworkError(err)),
		Err:       err,
	}
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// OpenAIGenerator produces chat completions.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(opts GeneratorOptions) (*OpenAIGenerator, error) {
	client, err := newOpenAIClient(opts.APIKey, opts.BaseURL)
	if err != nil {
		return nil, err
	}
	return &OpenAIGenerator{client: client, model: opts.Model}, nil
}

func (g *OpenAIGenerator) Name() string { return "openai/" + g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIRole(r Role) string {
	switch r {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
