package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand: the admin API with health,
// metrics, history reads and run triggering.
func newServeCmd() *cobra.Command {
	var (
		port int
		runs bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the admin HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			logger := appInstance.Logger()
			if port <= 0 {
				port = appInstance.Config().Server.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			apiServer, err := appInstance.Server(ctx, runs)
			if err != nil {
				return fmt.Errorf("build api server: %w", err)
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           apiServer.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", port), zap.Bool("runs_enabled", runs))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
					stop()
				}
				close(serveErr)
			}()

			<-ctx.Done()
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			apiServer.Wait()
			logger.Info("shutdown complete")

			if err := <-serveErr; err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (0 keeps server.port)")
	cmd.Flags().BoolVar(&runs, "runs", true, "allow POST /v1/runs to start crawl passes")
	return cmd
}
