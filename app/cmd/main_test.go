package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"ragchat/config"
	"ragchat/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskWithoutIndexSettings(t *testing.T) {
	t.Setenv("INDEX_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	var got types.QueryParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ask-like", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"directAnswer":"Float grew."}`+"\n\n")
		fmt.Fprint(w, `data: {"sourceDocumentation":[{"title":"1992 Shareholder Letter","link":"/letters/1992.pdf","pinpointed":true}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfgPath = filepath.Join(t.TempDir(), "missing.yaml")
	serverURL = srv.URL
	defer func() { serverURL = "" }()

	require.NoError(t, askCmd.PersistentPreRunE(askCmd, nil))

	var out bytes.Buffer
	require.NoError(t, ask(context.Background(), &out, "How did float change?"))

	assert.Equal(t, "How did float change?", got.Prompt)
	assert.NotEmpty(t, got.ConversationID)
	assert.Contains(t, out.String(), "Direct Answer: Float grew.")
	assert.Contains(t, out.String(), "- 1992 Shareholder Letter </letters/1992.pdf>")

	_, err := config.Load(cfgPath)
	assert.Error(t, err)
}

func TestAskReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"status":422,"errors":{"prompt":"required"}}`)
	}))
	defer srv.Close()

	cfg = config.Default()
	serverURL = srv.URL
	defer func() { serverURL = "" }()

	err := ask(context.Background(), &bytes.Buffer{}, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
