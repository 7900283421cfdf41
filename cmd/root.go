// Package cmd defines the price-tracker command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/app"
	"github.com/JakeFAU/realtime-price-tracker/internal/config"
	"github.com/JakeFAU/realtime-price-tracker/internal/logging"
	"github.com/JakeFAU/realtime-price-tracker/internal/telemetry"
	"github.com/JakeFAU/realtime-price-tracker/internal/worker"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the surface the commands use. Tests swap in a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	CheckNow(ctx context.Context, productID int64) (worker.Result, error)
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger, app.Options{})
}

// session is what PersistentPreRunE hands to the subcommands.
type session struct {
	app       App
	logger    *zap.Logger
	telemetry *telemetry.Providers
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "price-tracker",
		Short: "Checks marketplace prices and alerts users when they drop.",
		Long: `price-tracker scrapes product pages from supported marketplaces on a
schedule, records every observed price, watches for price drift and notifies
users whose target price has been reached.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
				Service:     cfg.Telemetry.ServiceName,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			providers, err := telemetry.Init(cmd.Context(), telemetry.Options{
				ServiceName: cfg.Telemetry.ServiceName,
				Version:     Version,
				ProjectID:   cfg.Telemetry.ProjectID,
				SampleRatio: cfg.Telemetry.SampleRatio,
			})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &session{
				app:       appInstance,
				logger:    logger,
				telemetry: providers,
			}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			s, ok := cmd.Context().Value(appKey).(*session)
			if !ok {
				return
			}
			ctx := context.WithoutCancel(cmd.Context())
			if err := s.app.Close(ctx); err != nil {
				s.logger.Warn("close application", zap.Error(err))
			}
			if err := s.telemetry.Shutdown(ctx); err != nil {
				s.logger.Warn("shutdown telemetry", zap.Error(err))
			}
			_ = s.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd(), newCheckCmd(), newMigrateCmd())
	return cmd
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(appKey).(*session)
	if !ok || s == nil || s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
