package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenshelf/strainscan/internal/capture"
	"github.com/greenshelf/strainscan/internal/handlers"
	"github.com/greenshelf/strainscan/internal/logging"
	"github.com/greenshelf/strainscan/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port      string
		noCapture bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the identification web service",
		Long: `Starts the Strainscan HTTP API on the specified port.

The API accepts label photos or text queries for identification, streams
enrichment progress over websockets, runs continuous scan sessions against the
capture directory, and reports duplicate records in an operator's catalog.`,
		Example: `  # Start server on default port 8888
  strainscan serve

  # Start server on custom port without a capture device
  strainscan serve --port 3000 --no-capture`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			st, err := newStack(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					slog.Error("Failed to close storage", "err", err)
				}
			}()

			opts := handlers.Options{
				Identifier: st.service,
				Catalog:    st.catalog,
				Weights:    a.cfg.Dedupe,
				Logger:     logging.NewComponentLogger(a.logger, "http"),
			}
			if !noCapture {
				manager := session.NewManager(
					capture.NewDirDevice(a.cfg.Server.CaptureDir, logging.NewComponentLogger(a.logger, "capture")),
					st.service,
					a.cfg.SessionConfig(),
					logging.NewComponentLogger(a.logger, "session"),
				)
				defer manager.Close()
				opts.Sessions = manager
			}
			handler := handlers.New(opts)

			runCtx, stopRelay := context.WithCancel(ctx)
			defer stopRelay()
			go handler.Run(runCtx)

			addr := ":" + a.cfg.Server.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Strainscan API available", "addr", addr, "url", "http://localhost"+addr, "capture", !noCapture)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-ctx.Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().BoolVar(&noCapture, "no-capture", false, "Disable scan sessions (no capture device)")

	return cmd
}
