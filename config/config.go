package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"ragchat/types"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type IndexConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=postgres chromem"`
	Name        string `yaml:"name" validate:"required"`
	ChromemPath string `yaml:"chromem_path"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=openai ollama"`
	Model     string `yaml:"model" validate:"required"`
	Dimension int    `yaml:"dimension" validate:"gt=0"`
	BaseURL   string `yaml:"base_url"`
}

type LLMConfig struct {
	Provider    string `yaml:"provider" validate:"oneof=openai ollama"`
	Model       string `yaml:"model" validate:"required"`
	RerankModel string `yaml:"rerank_model"`
	BaseURL     string `yaml:"base_url"`
}

type ChunkingConfig struct {
	Strategy string `yaml:"strategy" validate:"oneof=table-aware fixed-window"`
	Size     int    `yaml:"size" validate:"gt=0"`
	Overlap  int    `yaml:"overlap" validate:"gte=0"`
	Unit     string `yaml:"unit" validate:"oneof=word char"`
}

type RetrievalConfig struct {
	TopK          int `yaml:"top_k" validate:"gt=0"`
	RerankTopN    int `yaml:"rerank_top_n" validate:"gt=0"`
	MemoryWindow  int `yaml:"memory_window" validate:"gte=0"`
	ContextTokens int `yaml:"context_tokens" validate:"gt=0"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr" validate:"required"`
	LettersDir  string        `yaml:"letters_dir"`
	LettersBase string        `yaml:"letters_base" validate:"required"`
	KeepAlive   time.Duration `yaml:"keep_alive" validate:"gte=0"`
}

type LoaderConfig struct {
	SourceDir        string        `yaml:"source_dir"`
	EmbedConcurrency int           `yaml:"embed_concurrency" validate:"gt=0"`
	EmbedRPS         float64       `yaml:"embed_rps" validate:"gte=0"`
	Settle           time.Duration `yaml:"settle"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	DatabaseURL  string          `yaml:"database_url"`
	OpenAIAPIKey string          `yaml:"openai_api_key"`
	OllamaURL    string          `yaml:"ollama_url"`
	Index        IndexConfig     `yaml:"index"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
	LLM          LLMConfig       `yaml:"llm"`
	Chunking     ChunkingConfig  `yaml:"chunking"`
	Retrieval    RetrievalConfig `yaml:"retrieval"`
	Server       ServerConfig    `yaml:"server"`
	Loader       LoaderConfig    `yaml:"loader"`
	Log          LogConfig       `yaml:"log"`
}

func Default() *Config {
	return &Config{
		OllamaURL: "http://localhost:11434",
		Index: IndexConfig{
			Backend:     "postgres",
			Name:        "letters",
			ChromemPath: "./data/chromem",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Chunking: ChunkingConfig{
			Strategy: "table-aware",
			Size:     800,
			Overlap:  150,
			Unit:     "word",
		},
		Retrieval: RetrievalConfig{
			TopK:          10,
			RerankTopN:    5,
			MemoryWindow:  6,
			ContextTokens: 6000,
		},
		Server: ServerConfig{
			Addr:        ":3000",
			LettersDir:  "./letters",
			LettersBase: "/letters/",
			KeepAlive:   3 * time.Second,
		},
		Loader: LoaderConfig{
			SourceDir:        "./letters",
			EmbedConcurrency: 4,
			EmbedRPS:         8,
			Settle:           2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load is Read followed by Validate.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read layers defaults, the optional YAML file at path, an optional .env file and the
// process environment, in that order. The result is not validated, which suits clients
// that only need a few keys.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.LLM.RerankModel == "" {
		cfg.LLM.RerankModel = cfg.LLM.Model
	}
	if !strings.HasSuffix(cfg.Server.LettersBase, "/") {
		cfg.Server.LettersBase += "/"
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if errs := types.StructErrors(c); len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for field, msg := range errs {
			parts = append(parts, field+" "+msg)
		}
		sort.Strings(parts)
		return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
	}
	if c.Index.Backend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("invalid config: database_url is required for the postgres index")
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("invalid config: chunking.overlap (%d) must be below chunking.size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"DATABASE_URL":       &cfg.DatabaseURL,
		"OPENAI_API_KEY":     &cfg.OpenAIAPIKey,
		"OLLAMA_URL":         &cfg.OllamaURL,
		"INDEX_BACKEND":      &cfg.Index.Backend,
		"INDEX_NAME":         &cfg.Index.Name,
		"CHROMEM_PATH":       &cfg.Index.ChromemPath,
		"EMBEDDING_PROVIDER": &cfg.Embedding.Provider,
		"EMBEDDING_MODEL":    &cfg.Embedding.Model,
		"LLM_PROVIDER":       &cfg.LLM.Provider,
		"LLM_MODEL":          &cfg.LLM.Model,
		"RERANK_MODEL":       &cfg.LLM.RerankModel,
		"CHUNK_STRATEGY":     &cfg.Chunking.Strategy,
		"CHUNK_UNIT":         &cfg.Chunking.Unit,
		"SERVER_ADDR":        &cfg.Server.Addr,
		"LETTERS_DIR":        &cfg.Server.LettersDir,
		"LOADER_SOURCE_DIR":  &cfg.Loader.SourceDir,
		"LOG_LEVEL":          &cfg.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"EMBEDDING_DIMENSION": &cfg.Embedding.Dimension,
		"CHUNK_SIZE":          &cfg.Chunking.Size,
		"CHUNK_OVERLAP":       &cfg.Chunking.Overlap,
		"TOP_K":               &cfg.Retrieval.TopK,
		"RERANK_TOP_N":        &cfg.Retrieval.RerankTopN,
		"MEMORY_WINDOW":       &cfg.Retrieval.MemoryWindow,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}
