package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/feedharvest/internal/config"
	"github.com/JakeFAU/feedharvest/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App carries what every subcommand needs once flags are parsed.
type App struct {
	Config config.Config
	Logger *zap.Logger
}

// flagBindings maps config keys to the command flags that override them.
var flagBindings = map[string]string{
	"feed.url":                    "url",
	"feed.user":                   "user",
	"feed.snapshot_path":          "snapshot",
	"expansion.backend":           "backend",
	"crawl.seed":                  "seed",
	"crawl.max_unchanged_scrolls": "max-unchanged",
	"output.backend":              "output",
	"output.dir":                  "output-dir",
	"server.port":                 "port",
	"logging.level":               "log-level",
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		envFile string
	)
	cmd := &cobra.Command{
		Use:   "feedharvest",
		Short: "Incrementally harvests posts from an infinite-scroll feed.",
		Long: `feedharvest scrolls a signed-in social feed, extracts every post it has
not seen yet, expands truncated ones and checkpoints the growing record set
to local disk, GCS, S3 or Postgres until the feed runs dry.`,
		SilenceUsage: true,

		// Runs after flag parsing and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			opts := make([]config.LoadOption, 0, len(flagBindings))
			for key, name := range flagBindings {
				if flag := cmd.Flags().Lookup(name); flag != nil {
					opts = append(opts, config.BindFlag(key, flag))
				}
			}
			cfg, err := config.Load(cfgFile, opts...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			ctx := context.WithValue(cmd.Context(), appKey, &App{Config: cfg, Logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, err := resolveApp(cmd.Context()); err == nil {
				_ = app.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before HARVEST_* variables are read")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

// loadEnvFile loads path into the process environment. A missing file is
// not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*App, error) {
	if ctx == nil {
		return nil, errors.New("application not initialized")
	}
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
