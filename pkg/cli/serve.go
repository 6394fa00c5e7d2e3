package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(rt *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := rt.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					rt.logger.Warn("Failed to close store", zap.Error(err))
				}
			}()

			server := &http.Server{
				Addr:              rt.cfg.ListenAddr(),
				Handler:           a.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			listenErr := make(chan error, 1)
			go func() {
				rt.logger.Info("Starting ekaya-healthquery",
					zap.String("addr", server.Addr),
					zap.String("version", rt.cfg.Version),
					zap.String("env", rt.cfg.Env))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					listenErr <- err
				}
				close(listenErr)
			}()

			select {
			case err := <-listenErr:
				if err != nil {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			rt.logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				_ = server.Close()
				return err
			}
			return nil
		},
	}
}
