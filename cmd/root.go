package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/triggercut/internal/config"
	"github.com/andresmejia3/triggercut/internal/logging"
	"github.com/andresmejia3/triggercut/internal/metrics"
	"github.com/andresmejia3/triggercut/internal/store"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for cut, detect, and batch commands
type Options struct {
	InputPath        string
	OutputPath       string
	Triggers         []string
	Threshold        float64
	Mode             string
	StartTime        float64
	ParallelTriggers bool
	NumEngines       int
	JSON             bool
}

// skipDBAnnotation marks commands that never touch the run history.
const skipDBAnnotation = "triggercut/skip-db"

var (
	// DB is the run history store shared by subcommands. Nil when no
	// database is configured.
	DB *store.Store
	// cfg is the environment configuration with flag overrides applied
	cfg *config.Config
	// logger is the process-wide structured logger
	logger = slog.Default()

	dbURL       string
	logLevel    string
	metricsAddr string
	ffmpegBin   string
	ffprobeBin  string

	metricsServer *http.Server
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "triggercut",
	Short:   "Cut videos at the first frame that matches a trigger image",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		applyFlagOverrides(cmd)

		logger = logging.NewLogger(cfg.LogLevel)
		slog.SetDefault(logger)

		if cfg.MetricsAddr != "" {
			metricsServer = metrics.StartServer(cfg.MetricsAddr, logging.WithComponent(logger, "metrics"))
		}

		if cmd.Annotations[skipDBAnnotation] != "" {
			return nil
		}
		conn := cfg.DatabaseConnString()
		if conn == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), conn)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if metricsServer != nil {
			// The main context might be cancelled already (Ctrl+C)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(ctx)
		}
	},
}

// applyFlagOverrides lets explicit flags win over environment values. Only
// the root's persistent flags are consulted so a subcommand flag with the
// same name cannot clear a setting.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Root().PersistentFlags()
	if flags.Changed("db") {
		cfg.DatabaseURL = dbURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if flags.Changed("ffmpeg") {
		cfg.FFmpeg = ffmpegBin
	}
	if flags.Changed("ffprobe") {
		cfg.FFprobe = ffprobeBin
	}
}

// requireDB fails commands that only make sense with run history.
func requireDB() error {
	if DB == nil {
		return errors.New("no database configured: set --db, TRIGGERCUT_DB_URL or POSTGRES_HOST")
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for run history (default: TRIGGERCUT_DB_URL or POSTGRES_* env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().StringVar(&ffmpegBin, "ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	rootCmd.PersistentFlags().StringVar(&ffprobeBin, "ffprobe", "ffprobe", "Path to the ffprobe binary")
}
