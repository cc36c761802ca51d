// Package cli implements the invest-cache CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/config"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/evaluator"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/metrics"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/service"
	"github.com/Ilnur7571/INVEST-Checker-Agent/internal/store"
)

var (
	dbPath     string
	configPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "invest-cache",
	Short: "Similarity-aware cache for INVEST user story evaluations",
	Long: "Evaluates user stories against the INVEST criteria through a remote language model, " +
		"reusing stored verdicts for identical or near-identical stories.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (default: $INVEST_CACHE_DB or ~/.invest-cache/cache.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./"+config.DefaultFile+" if present)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Backend == "postgres" {
		st, err := store.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := store.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openService wires config, logging, metrics, store and, when remote is set,
// the evaluator. The returned cleanup closes everything.
func openService(ctx context.Context, remote bool) (*service.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)

	shutdown, err := metrics.Setup(cfg.Metrics.Exporter)
	if err != nil {
		return nil, nil, err
	}
	rec, err := metrics.NewGlobalRecorder()
	if err != nil {
		shutdown(ctx)
		return nil, nil, err
	}

	opts := service.Options{
		Cache:         cfg.Cache,
		Normalize:     cfg.Normalize,
		RemoteTimeout: cfg.Evaluator.Timeout(),
		Logger:        logger,
		Recorder:      rec,
	}
	if remote {
		opts.Evaluator, err = evaluator.NewFromConfig(cfg.Evaluator)
		if err != nil {
			shutdown(ctx)
			return nil, nil, err
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		shutdown(ctx)
		return nil, nil, err
	}
	svc, err := service.Open(ctx, st, opts)
	if err != nil {
		st.Close()
		shutdown(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		svc.Close()
		shutdown(context.WithoutCancel(ctx))
	}
	return svc, cleanup, nil
}

func wrapErr(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// readStory takes the story from positional args, or from stdin when piped.
func readStory(cmd *cobra.Command, args []string) (string, error) {
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return "", wrapErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%s: story is required (positional arg or stdin)", cmd.Name())
	}
	return strings.TrimSpace(content), nil
}
