package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"ragchat/config"
	"ragchat/loader/internal"
	"ragchat/loader/service"
	"ragchat/logger"
	"ragchat/model"
	"ragchat/store"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "loader",
	Short: "Ingest shareholder letters into the vector index",
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

var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Ingest every supported file in the corpus directory once",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Loader.SourceDir
		if len(args) == 1 {
			dir = args[0]
		}
		return withService(func(ctx context.Context, svc *service.Service) error {
			report, err := svc.IngestDir(ctx, dir)
			if err != nil {
				return err
			}
			cmd.Printf("Indexed %d documents (%d chunks), skipped %d in %s\n",
				report.Documents, report.Chunks, len(report.Skipped), report.Elapsed.Round(time.Millisecond))
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest the corpus directory, then re-ingest files as they change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Loader.SourceDir
		if len(args) == 1 {
			dir = args[0]
		}
		return withService(func(ctx context.Context, svc *service.Service) error {
			if _, err := svc.IngestDir(ctx, dir); err != nil {
				return err
			}
			return svc.Watch(ctx, internal.NewWatcher(dir, cfg.Loader.Settle))
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	rootCmd.AddCommand(runCmd, watchCmd)
}

func withService(fn func(ctx context.Context, svc *service.Service) error) error {
	return service.Run(shutdownTimeout, func(ctx context.Context) error {
		embedder, err := model.NewEmbedder(model.EmbedderOptions{
			Provider:  cfg.Embedding.Provider,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			BaseURL:   embeddingBaseURL(cfg),
			APIKey:    cfg.OpenAIAPIKey,
		})
		if err != nil {
			return fmt.Errorf("embedding client: %w", err)
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

		strategy, err := internal.NewStrategy(cfg.Chunking.Strategy, internal.Window{
			Size:    cfg.Chunking.Size,
			Overlap: cfg.Chunking.Overlap,
			Unit:    cfg.Chunking.Unit,
		})
		if err != nil {
			return err
		}

		log.Info().
			Str("index", cfg.Index.Name).
			Str("backend", cfg.Index.Backend).
			Str("embedder", embedder.Name()).
			Str("strategy", strategy.Name()).
			Msg("loader started")

		svc := service.New(index, embedder, strategy, service.Options{
			Concurrency: cfg.Loader.EmbedConcurrency,
			RPS:         cfg.Loader.EmbedRPS,
		})
		return fn(ctx, svc)
	})
}

func embeddingBaseURL(cfg *config.Config) string {
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "ollama" {
		return cfg.OllamaURL
	}
	return cfg.Embedding.BaseURL
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
