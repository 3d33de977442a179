package model

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is one non-streaming call to a text generation service.
// An empty Model means the generator's default.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	JSON        bool
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Name() string
}

type GeneratorOptions struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewGenerator(opts GeneratorOptions) (Generator, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "openai":
		return NewOpenAIGenerator(opts)
	case "ollama":
		return NewOllamaGenerator(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}
