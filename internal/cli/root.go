package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/fleetcall/internal/control"
	"github.com/vietddude/fleetcall/internal/core/config"
)

var (
	cfgPath     string
	isDebug     bool
	maxAttempts int
	backoff     time.Duration
	endpoint    string

	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "fleetcall",
	Short: "Resilient client for the robot fleet API",
	Long: `fleetcall calls the fleet management gRPC API with bounded retries,
credential refresh on UNAUTHENTICATED and automatic stream reconnection.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file, YAML or TOML")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&maxAttempts, "max-attempts", 0, "override retry.max_attempts")
	rootCmd.PersistentFlags().DurationVar(&backoff, "backoff", 0, "override retry.backoff")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "override api.endpoint")
}

func setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	loaded, err := loadConfig(cmd)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return err
	}
	cfg = loaded

	applyOverrides(cmd, cfg)

	return setupLogging(cfg.Logging, isDebug)
}

// applyOverrides copies explicitly set flags over the loaded config.
func applyOverrides(cmd *cobra.Command, cfg *config.AppConfig) {
	flags := cmd.Flags()
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = maxAttempts
	}
	if flags.Changed("backoff") {
		cfg.Retry.SetBackoff(backoff)
	}
	if flags.Changed("endpoint") {
		cfg.API.Endpoint = endpoint
	}
}

// loadConfig reads the config file. A missing default file means defaults;
// a missing file named with --config is an error.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	loaded, err := config.Load(cfgPath)
	if err == nil {
		return loaded, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, err
}

// withClient builds a client, runs fn with a context cancelled on SIGINT or
// SIGTERM and closes the client afterwards.
func withClient(fn func(ctx context.Context, c *control.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := control.NewClient(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize client", "error", err)
		return err
	}
	c.Start()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.Close(shutdownCtx); err != nil {
			slog.Warn("Error during shutdown", "error", err)
		}
	}()

	return fn(ctx, c)
}
