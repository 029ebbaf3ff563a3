// Package cli provides the command-line interface for applytrack.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/applytrack/internal/config"
	"github.com/raphaelgruber/applytrack/internal/db"
	"github.com/raphaelgruber/applytrack/internal/lock"
	"github.com/raphaelgruber/applytrack/internal/metrics"
	"github.com/raphaelgruber/applytrack/internal/service"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	showStats bool

	// Global config, db client and services
	cfg      config.Config
	dbClient *db.Client
	svc      *services
	closeLog func() error
)

// services bundles everything a command can call into.
type services struct {
	metrics     *metrics.Collector
	ops         *service.OperationLog
	jobs        *service.JobRepository
	versions    *service.VersionService
	migration   *service.MigrationService
	attachments *service.AttachmentService
	undoer      *service.Undoer
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "applytrack",
	Short: "Versioned resume and job folder manager",
	Long: `Applytrack keeps every resume you send as an immutable, numbered version,
imports job folders you organised elsewhere, and lets you undo what you did
in this shell session.

Data lives in ~/.applytrack unless APPLYTRACK_HOME says otherwise.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version, help and completion commands
		switch cmd.Name() {
		case "version", "help", "completion":
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.SessionID == "" {
			cfg.SessionID = fmt.Sprintf("shell-%d", os.Getppid())
		}

		var logger *slog.Logger
		logger, closeLog = config.SetupLogger(cfg, verbose)
		slog.SetDefault(logger)

		ctx := cmd.Context()
		dbCfg := db.Config{
			ManifestDSN:       cfg.ManifestDSN,
			ServiceConfigFile: cfg.ServiceConfigFile,
			ManagedFolder:     filepath.Join(cfg.HomeDir, "resumes"),
			JobsFolder:        filepath.Join(cfg.HomeDir, "jobs"),
		}
		dbClient, err = db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("open manifest: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}

		svc = newServices(cfg, dbClient, logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if showStats && svc != nil {
			printStats(cmd.OutOrStdout(), svc.metrics.Snapshot())
		}
		shutdown(cmd.Context())
	},
}

// newServices wires the engine over an open manifest client.
func newServices(cfg config.Config, client *db.Client, logger *slog.Logger) *services {
	m := metrics.NewCollector()
	managed := client.ServiceConfig().ManagedFolder

	ops := service.NewOperationLog(cfg.OperationsLogFile, cfg.OperationsLogCap, cfg.SessionID)
	jobs := service.NewJobRepository(client.ServiceConfig().JobsFolder)
	locker := lock.New(service.LockPath(managed), lock.Options{
		Retry:      cfg.LockRetry,
		StaleAfter: cfg.LockStaleAfter,
		Session:    cfg.SessionID,
		Logger:     logger,
	})

	migration := service.NewMigrationService(client, jobs, ops, service.MigrationOptions{LogDir: cfg.MigrationLogDir, Metrics: m})
	attachments := service.NewAttachmentService(jobs, ops, service.AttachmentOptions{LogDir: cfg.MigrationLogDir, Metrics: m})

	return &services{
		metrics:     m,
		ops:         ops,
		jobs:        jobs,
		versions:    service.NewVersionService(client, ops, locker, service.VersionOptions{LockTimeout: cfg.LockTimeout, Metrics: m}),
		migration:   migration,
		attachments: attachments,
		undoer:      service.NewUndoer(client, ops, migration, attachments, m),
	}
}

func shutdown(ctx context.Context) {
	if dbClient != nil {
		if err := dbClient.Close(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close manifest: %v\n", err)
		}
		dbClient = nil
	}
	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
	svc = nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the command tree with ctx. Resources opened by the
// pre-run hook are released even when the command fails.
func ExecuteContext(ctx context.Context) error {
	defer shutdown(ctx)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print runtime statistics after the command")

	// Add subcommands
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(addVersionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(extractionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}
