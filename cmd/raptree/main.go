// Command raptree builds summarization trees from documents and answers
// questions over them, as a one-shot CLI or an HTTP service.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dgallion1/raptree/internal/config"
	"github.com/dgallion1/raptree/internal/pathstore"
	"github.com/dgallion1/raptree/internal/pipeline"
	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/provider/catalog"
	"github.com/dgallion1/raptree/internal/snapshot"
)

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "raptree",
	Short:         "Hierarchical summarization trees for retrieval-augmented QA",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, buildCmd, askCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is the wiring shared by every command.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	orch  *pipeline.Orchestrator
	stats *provider.Stats
	ps    *pathstore.Client
}

// bootstrap loads configuration and resolves providers. Logs go to w.
func bootstrap(w io.Writer) (*app, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := newLogger(w, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("configuration loaded", "config", cfg)

	registry := catalog.New(catalog.Credentials{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OllamaBaseURL:   cfg.OllamaBaseURL,
		GeminiAPIKey:    cfg.GeminiAPIKey,
	})
	raw, names, err := registry.Resolve(cfg.ProviderSpecs())
	if err != nil {
		return nil, err
	}
	stats := provider.NewStats(cfg.StatsWindow)
	guard := provider.Guard{Policy: cfg.RetryPolicy(), Stats: stats, Log: log}

	var ps *pathstore.Client
	if cfg.PathstoreURL != "" {
		ps = pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey)
	}

	retrieve, err := cfg.Retriever()
	if err != nil {
		return nil, err
	}
	orch, err := pipeline.New(pipeline.Config{
		Builder:      cfg.Builder(),
		Retrieve:     retrieve,
		JobWorkers:   cfg.JobWorkers,
		MaxQueueSize: cfg.MaxQueueSize,
		JobTTL:       cfg.JobTTL,
		Snapshots:    snapshot.Options{Pathstore: ps},
	}, guard.Wrap(raw, names), pipeline.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, orch: orch, stats: stats, ps: ps}, nil
}

func (a *app) Close() {
	if a.ps != nil {
		a.ps.Close()
	}
}

func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
