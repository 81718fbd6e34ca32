package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API and runs queued harvests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			dispatch := e.services.Dispatcher()
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
				Handler:           e.services.Server(dispatch).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			dispatched := make(chan struct{})
			go func() {
				defer close(dispatched)
				e.logger.Info("dispatcher started", zap.Int("workers", e.cfg.Crawl.Workers))
				dispatch.Run(ctx)
			}()

			serveErr := make(chan error, 1)
			go func() {
				e.logger.Info("http server started", zap.Int("port", e.cfg.Server.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
					stop()
				}
			}()

			<-ctx.Done()
			e.logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				e.logger.Error("server shutdown error", zap.Error(err))
			}
			<-dispatched
			e.logger.Info("shutdown complete")

			select {
			case err := <-serveErr:
				return fmt.Errorf("http server: %w", err)
			default:
				return nil
			}
		},
	}
}
