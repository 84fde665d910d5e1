// Package cmd defines and implements the CLI commands for the mixtape-indexer
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/app"
	"github.com/JakeFAU/mixtape-indexer/internal/config"
	"github.com/JakeFAU/mixtape-indexer/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

const shutdownTimeout = 10 * time.Second

// newApp is the application factory. It's a variable so tests can swap in
// isolated registries.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// rootState carries what PersistentPreRunE built so Execute can release it
// whether or not the subcommand failed.
type rootState struct {
	cfgFile string
	app     *app.App
	logger  *zap.Logger
}

func (s *rootState) close() {
	if s.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.app.Close(ctx); err != nil {
			s.logger.Warn("shutdown finished with errors", zap.Error(err))
		}
		s.app = nil
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
}

// newRootCmd creates and configures the root command.
func newRootCmd() (*cobra.Command, *rootState) {
	state := &rootState{}
	cmd := &cobra.Command{
		Use:   "mixtape-indexer",
		Short: "Indexes NFT collection metadata into per-chain mixtapes.",
		Long: `mixtape-indexer walks the contracts listed by the task source on each
configured chain, resolves every token's metadata, stores it in a per-contract
record log, and maintains the indexed.json and directory.json files that
front-ends read.`,
		SilenceUsage: true,

		// Builds the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(state.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			state.logger = logger

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			state.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&state.cfgFile, "config", "", "config file (YAML, TOML, or JSON)")

	cmd.AddCommand(
		newRunCmd(),
		newIndexCmd(),
		newDirectoryCmd(),
		newCIDCmd(),
	)
	return cmd, state
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, state := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	state.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mixtape-indexer: %v\n", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}
