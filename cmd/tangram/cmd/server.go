package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tangramhq/tangram/internal/process"
	"github.com/tangramhq/tangram/internal/server"
)

func newServerCmd() *cobra.Command {
	c := &cobra.Command{Use: "server", Short: "Run tangram as a long-lived server"}
	c.AddCommand(newServerRunCmd())
	return c
}

func newServerRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the HTTP surface until interrupted",
		Args:  cobra.NoArgs,
		RunE: withApp(func(a *app, cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))

			srv := &server.Server{
				Store:     a.store,
				Index:     a.index,
				Engine:    a.engine,
				Pipes:     a.pipes,
				Resolver:  a.resolver,
				Remotes:   a.remotes,
				Collector: a.collector,
				Log:       logger,
			}

			httpServer := &http.Server{
				Addr:    a.cfg.ListenAddr,
				Handler: srv.Mux(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sweepCtx, cancelSweep := context.WithCancel(ctx)
			defer cancelSweep()
			go func() {
				if err := process.RunHeartbeatSweeper(sweepCtx, a.index, nowUnix, a.cfg.HeartbeatTimeout, 10*time.Second); err != nil && sweepCtx.Err() == nil {
					logger.Error("heartbeat sweeper stopped", "error", err)
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", a.cfg.ListenAddr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutting down: %w", err)
				}
				return nil
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		}),
	}
}
