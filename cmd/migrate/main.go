// Command migrate rewrites legacy snippet documents into the current
// schema. It reads the same configuration as the server (.env,
// CODEFLOW_CONFIG, environment), so it always targets the same store.
//
//	migrate snippets --dry-run
//	migrate snippets --keep-old --limit 200
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/sakif/codeflow/internal/config"
	"github.com/sakif/codeflow/internal/docstore"
	"github.com/sakif/codeflow/internal/docstore/mongo"
	"github.com/sakif/codeflow/internal/docstore/sqlite"
	"github.com/sakif/codeflow/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "CodeFlow data migrations",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var snippetsCmd = &cobra.Command{
	Use:   "snippets",
	Short: "Copy legacy snippet fields (userId, content, createdAt, updatedAt) to the snake_case schema",
	Long: `Copy legacy snippet fields to the snake_case schema.

Documents written by older clients carry userId/content/createdAt/updatedAt.
They are invisible to the owner-filtered snippet list until rewritten.
It is safe to run this command multiple times; migrated documents are skipped.`,
	RunE: runSnippets,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file (default: $"+config.EnvConfigPath+")")

	snippetsCmd.Flags().Bool("dry-run", false, "count documents that need migrating without writing")
	snippetsCmd.Flags().Bool("keep-old", false, "keep the legacy fields next to the new ones")
	snippetsCmd.Flags().Int("limit", migrate.MaxBatch, fmt.Sprintf("documents per batch (1-%d)", migrate.MaxBatch))
	rootCmd.AddCommand(snippetsCmd)
}

func runSnippets(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	keepOld, _ := cmd.Flags().GetBool("keep-old")
	limit, _ := cmd.Flags().GetInt("limit")
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = os.Getenv(config.EnvConfigPath)
	}

	if _, err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout carries only the JSON report.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	rep, err := migrate.Snippets(ctx, store, migrate.Options{DryRun: dryRun, KeepOld: keepOld, Limit: limit}, logger)
	if rep != nil {
		out, _ := sonic.ConfigStd.MarshalIndent(rep, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return err
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	if cfg.Store.Backend == "mongo" {
		return mongo.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
	}
	return sqlite.New(cfg.Store.SQLitePath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
