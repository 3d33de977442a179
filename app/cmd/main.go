package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ragchat/app/agent"
	"ragchat/app/api"
	"ragchat/app/server"
	"ragchat/config"
	"ragchat/logger"
	"ragchat/model"
	"ragchat/store"
	"ragchat/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "app",
	Short: "Question answering over the shareholder letters",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
		return nil
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var (
	serverURL      string
	conversationID string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a running server a question and print the streamed answer",
	Args:  cobra.MinimumNArgs(1),
	// the client only needs server.addr, so the index settings are not validated
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Read(cfgPath)
		if err != nil {
			return err
		}
		logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return ask(ctx, cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	askCmd.Flags().StringVar(&serverURL, "server", "", "server base URL (default http://localhost<server.addr>)")
	askCmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id; a new question cancels the previous one")
	rootCmd.AddCommand(serveCmd, askCmd)
}

func serve(ctx context.Context) error {
	embedder, err := model.NewEmbedder(model.EmbedderOptions{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		BaseURL:   baseURL(cfg.Embedding.Provider, cfg.Embedding.BaseURL),
		APIKey:    cfg.OpenAIAPIKey,
	})
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}

	generator, err := model.NewGenerator(model.GeneratorOptions{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  baseURL(cfg.LLM.Provider, cfg.LLM.BaseURL),
		APIKey:   cfg.OpenAIAPIKey,
	})
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}

	index, err := store.Open(ctx, store.Options{
		Backend:     cfg.Index.Backend,
		Name:        cfg.Index.Name,
		DatabaseURL: cfg.DatabaseURL,
		ChromemPath: cfg.Index.ChromemPath,
	})
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer index.Close()

	if err := index.EnsureIndex(ctx, embedder.Dimension()); err != nil {
		return err
	}

	a := agent.New(
		agent.NewRetriever(embedder, index, generator, agent.RetrieverOptions{
			TopK:       cfg.Retrieval.TopK,
			TopN:       cfg.Retrieval.RerankTopN,
			JudgeModel: cfg.LLM.RerankModel,
		}),
		agent.NewSynthesizer(generator, agent.SynthesizerOptions{
			Model:         cfg.LLM.Model,
			ContextTokens: cfg.Retrieval.ContextTokens,
			MemoryWindow:  cfg.Retrieval.MemoryWindow,
			Counter:       agent.NewTokenCounter(),
		}),
		agent.NewCitationResolver(cfg.Server.LettersBase),
	)

	log.Info().
		Str("index", cfg.Index.Name).
		Str("embedder", embedder.Name()).
		Str("llm", generator.Name()).
		Msg("answer pipeline ready")

	s := server.New(server.Options{
		Addr:        cfg.Server.Addr,
		LettersDir:  cfg.Server.LettersDir,
		LettersBase: cfg.Server.LettersBase,
		KeepAlive:   cfg.Server.KeepAlive,
	}, a, index)
	return s.Run(ctx)
}

func ask(ctx context.Context, out io.Writer, question string) error {
	base := serverURL
	if base == "" {
		base = "http://localhost" + cfg.Server.Addr
	}
	conv := conversationID
	if conv == "" {
		conv = uuid.NewString()
	}

	body, err := json.Marshal(types.QueryParams{Prompt: question, ConversationID: conv})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(base, "/")+"/ask-like", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server answered %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var events []api.Event
	if err := api.ReadEvents(resp.Body, func(e api.Event) error {
		events = append(events, e)
		return nil
	}); err != nil {
		return err
	}

	printMessage(out, api.Reduce(events, api.Apply, api.ChatMessage{}))
	return nil
}

func printMessage(out io.Writer, m api.ChatMessage) {
	if m.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", m.Error)
		return
	}
	if m.Text != "" {
		fmt.Fprintln(out, m.Text)
	}
	if m.DirectAnswer != "" {
		fmt.Fprintf(out, "Direct Answer: %s\n", m.DirectAnswer)
	}
	if len(m.SupportingEvidence) > 0 {
		fmt.Fprintf(out, "\nSupporting Evidence:\n- %s\n", strings.Join(m.SupportingEvidence, "\n- "))
	}
	if m.ContextualAnalysis != "" {
		fmt.Fprintf(out, "\nContextual Analysis:\n%s\n", m.ContextualAnalysis)
	}
	if len(m.Sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, s := range m.Sources {
			line := fmt.Sprintf("- %s <%s>", s.Title, s.Link)
			if !s.Pinpointed {
				line += " (" + s.Note + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
}

func baseURL(provider, configured string) string {
	if configured == "" && provider == "ollama" {
		return cfg.OllamaURL
	}
	return configured
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
