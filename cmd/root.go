// Package cmd defines the CLI commands for the imdb-api executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GMartin-Data/imdb-api/internal/api"
	"github.com/GMartin-Data/imdb-api/internal/app"
	"github.com/GMartin-Data/imdb-api/internal/config"
	"github.com/GMartin-Data/imdb-api/internal/crawler"
	"github.com/GMartin-Data/imdb-api/internal/dispatcher"
	"github.com/GMartin-Data/imdb-api/internal/logging"
)

// Services is the slice of the application the commands drive.
type Services interface {
	RunOnce(ctx context.Context, kinds []string, limit int) (crawler.Job, error)
	Dispatcher() *dispatcher.Dispatcher
	Server(d *dispatcher.Dispatcher) *api.Server
	Close()
}

// newServices is a variable so tests can swap in a fake application.
var newServices = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Services, error) {
	return app.New(ctx, cfg, logger)
}

type envKey struct{}

// env is what PersistentPreRunE hands to the subcommands.
type env struct {
	cfg      config.Config
	logger   *zap.Logger
	services Services
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "imdb-api",
		Short: "Harvests IMDb titles into a structured record store.",
		Long: `imdb-api pages through IMDb's advanced title search, enriches each title
from its detail page and stores one normalized record per title.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			services, err := newServices(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, &env{
				cfg:      cfg,
				logger:   logger,
				services: services,
			}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return
			}
			e.services.Close()
			_ = e.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	cmd.AddCommand(newCrawlCmd(), newServeCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("application services not initialized")
	}
	return e, nil
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}
