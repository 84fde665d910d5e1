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

func newRunCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the indexing loop",
		Long: `Runs indexing cycles over every scheduled chain, sleeping for
scheduler.delay between cycles, until interrupted. With server.enabled the
status and metrics endpoints are served alongside.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoop(cmd, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single cycle and exit")
	return cmd
}

func runLoop(cmd *cobra.Command, once bool) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var srv *http.Server
	if a.Config.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
			Handler:           a.Server.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.Logger.Info("http server started", zap.Int("port", a.Config.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("http server error", zap.Error(err))
				cancel()
			}
		}()
	}

	if once {
		err = a.Scheduler.RunCycle(ctx)
	} else {
		err = a.Scheduler.Run(ctx)
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.Logger.Error("server shutdown error", zap.Error(serr))
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run scheduler: %w", err)
	}
	a.Logger.Info("run command finished")
	return nil
}
