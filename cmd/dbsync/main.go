// Package main is the entry point for the dbsync CLI.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Salocin01/DBWappizyToSmartDiet/internal/analytics"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/compare"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/config"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/logging"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/migrate"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/schema"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/source"
	"github.com/Salocin01/DBWappizyToSmartDiet/internal/target"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	exitOK        = 0
	exitError     = 1
	exitInterrupt = 130
)

var (
	configPath string
	assumeYes  bool
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "dbsync",
		Short:         "Incremental MongoDB to PostgreSQL synchronization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Apply proposed schema changes without prompting")

	rootCmd.AddCommand(migrateCmd(), matomoCmd(), compareCmd(), applySQLCmd(), versionCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "interrupted")
			return exitInterrupt
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	return exitOK
}

// setup loads configuration, the logger, and the table registry.
func setup() (*config.Config, *slog.Logger, *schema.Registry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	registry, err := schema.LoadRegistry(cfg.Import.SchemaFile)
	if err != nil {
		return nil, nil, nil, err
	}

	return cfg, logger, registry, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run the incremental migration across all registered tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, registry, err := setup()
			if err != nil {
				return err
			}

			logger.Info("starting migration",
				slog.String("version", version),
				slog.Int("tables", registry.Len()),
				slog.Bool("direct", cfg.Import.Direct),
				slog.Bool("by_batch", cfg.Import.ByBatch))

			runner := migrate.NewRunner(cfg, registry, logger, cmd.OutOrStdout())
			runner.ConfirmPlan = func(plan *schema.Plan) bool {
				if assumeYes {
					return true
				}
				return promptYes(cmd, "Apply these schema changes? [y/N] ")
			}

			summary, err := runner.Run(cmd.Context())
			if err != nil {
				if summary != nil {
					summary.Print(cmd.OutOrStdout())
				}
				return err
			}

			logger.Info("migration complete")
			return nil
		},
	}
}

func matomoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matomo-sync",
		Short: "Mirror Matomo analytics tables from MariaDB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _, err := setup()
			if err != nil {
				return err
			}

			schemas, err := analytics.LoadSchemas(cfg.Import.MatomoSchemaFile)
			if err != nil {
				return err
			}

			targetStore, err := target.Connect(cmd.Context(), cfg.Target)
			if err != nil {
				return err
			}
			defer targetStore.Close()

			mirror, err := analytics.NewMirror(cmd.Context(), cfg.Analytics, targetStore.DB(), logger)
			if err != nil {
				return err
			}
			defer mirror.Close()

			return mirror.SyncAll(cmd.Context(), schemas)
		},
	}
}

func compareCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Report identifier differences between source and target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, registry, err := setup()
			if err != nil {
				return err
			}

			sourceStore, err := source.Connect(cmd.Context(), cfg.Source)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = sourceStore.Close(closeCtx)
			}()

			targetStore, err := target.Connect(cmd.Context(), cfg.Target)
			if err != nil {
				return err
			}
			defer targetStore.Close()

			comparator := compare.New(sourceStore, targetStore)
			if since != "" {
				t, err := config.ParseDateThreshold(since)
				if err != nil {
					return err
				}
				comparator.Since = &t
			}

			results, err := comparator.CompareAll(cmd.Context(), registry)
			if err != nil {
				return err
			}
			compare.Print(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Limit the source side to documents created on or after this date (YYYY-MM-DD)")
	return cmd
}

func applySQLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply-sql [table...]",
		Short: "Apply deferred-mode SQL export files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, registry, err := setup()
			if err != nil {
				return err
			}

			targetStore, err := target.Connect(cmd.Context(), cfg.Target)
			if err != nil {
				return err
			}
			defer targetStore.Close()

			summary := migrate.NewSummary()
			writer, err := targetStore.Writer(cmd.Context(), target.WriterOptions{
				Summary:   summary,
				ByBatch:   cfg.Import.ByBatch,
				Direct:    true,
				ExportDir: cfg.Import.SQLExportDir,
				Logger:    logger,
				Redactor:  logging.NewRedactor(cfg.Secrets()),
			})
			if err != nil {
				return err
			}
			defer writer.Close()

			tables := args
			if len(tables) == 0 {
				for _, ts := range registry.Tables() {
					tables = append(tables, ts.Name)
				}
			}

			files := writer.Files()
			for _, table := range tables {
				path := files.Path(table)
				n, err := writer.ExecuteSQLFile(cmd.Context(), path)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("applied export file",
						slog.String("table", table), slog.Int("statements", n))
				}
			}

			summary.Print(cmd.OutOrStdout())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbsync %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}

func promptYes(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
