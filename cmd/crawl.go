package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one discovery and
// ingestion pass and exits.
func newCrawlCmd() *cobra.Command {
	var deadline time.Duration

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl pass",
		Long: `Discovers article links on every configured category listing, skips
the ones already in history, and fetches, extracts, persists and publishes
the rest. SIGINT or SIGTERM cancels the pass after the current link.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, deadline)
		},
	}
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "overall time limit for this pass (0 keeps run.deadline)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, deadline time.Duration) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	p, err := appInstance.Pipeline(ctx)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	summary, err := p.Run(ctx)
	logger.Info("Crawl command finished.",
		zap.String("run_id", summary.RunID),
		zap.Int("discovered", summary.Discovered),
		zap.Int("skipped", summary.Skipped),
		zap.Int("accepted", summary.Accepted),
		zap.Int("published", summary.Published),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	return nil
}
