// Package cmd defines and implements the CLI commands for the cls-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/api"
	"github.com/JakeFAU/cls-news-crawler/internal/app"
	"github.com/JakeFAU/cls-news-crawler/internal/clock/system"
	"github.com/JakeFAU/cls-news-crawler/internal/config"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
	"github.com/JakeFAU/cls-news-crawler/internal/logging"
	"github.com/JakeFAU/cls-news-crawler/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Clock() *system.Clock
	History() history.Store
	Pipeline(ctx context.Context) (*pipeline.Pipeline, error)
	Server(ctx context.Context, withRunner bool) (*api.Server, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "cls-crawler",
		Short: "Crawls CLS depth news into a history store and a message stream.",
		Long: `cls-crawler renders the 财联社 (cls.cn) category listings in a headless
browser, extracts every new article it has not seen before, appends it to the
history store and publishes it to the downstream news stream.`,
		SilenceUsage: true,

		// Build the application once and hand it to the subcommand via the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return nil
			}
			logger := appInstance.Logger()
			if err := appInstance.Close(context.WithoutCancel(cmd.Context())); err != nil {
				logger.Warn("Failed to close application services", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON); CLSCRAWLER_* env vars override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "cls-crawler: %v\n", err)
		os.Exit(1)
	}
}
