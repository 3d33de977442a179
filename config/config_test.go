package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "chromem")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 150, cfg.Chunking.Overlap)
	assert.Equal(t, "table-aware", cfg.Chunking.Strategy)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 5, cfg.Retrieval.RerankTopN)
	assert.Equal(t, cfg.LLM.Model, cfg.LLM.RerankModel)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeYAML(t, `
index:
  backend: chromem
  name: letters-test
chunking:
  size: 1000
  overlap: 200
  unit: char
loader:
  settle: 5s
server:
  letters_base: /docs
`)
	t.Setenv("CHUNK_OVERLAP", "100")
	t.Setenv("TOP_K", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "letters-test", cfg.Index.Name)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, "char", cfg.Chunking.Unit)
	assert.Equal(t, 20, cfg.Retrieval.TopK)
	assert.Equal(t, 5*time.Second, cfg.Loader.Settle)
	assert.Equal(t, "/docs/", cfg.Server.LettersBase)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "postgres without url", yaml: "index:\n  backend: postgres\n"},
		{name: "unknown strategy", yaml: "index:\n  backend: chromem\nchunking:\n  strategy: sentences\n"},
		{name: "overlap not below size", yaml: "index:\n  backend: chromem\nchunking:\n  size: 100\n  overlap: 100\n"},
		{name: "non numeric env", yaml: "index:\n  backend: chromem\n", env: map[string]string{"CHUNK_SIZE": "big"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeYAML(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestReadSkipsValidation(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SERVER_ADDR", ":4000")
	path := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database_url")

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Server.Addr)
}
