package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelcore/internal/events"
	"modelcore/internal/httpapi"
	"modelcore/internal/logging"
	"modelcore/internal/manager"
)

const defaultAddr = ":8080"

var _ httpapi.Service = (*manager.Manager)(nil)

func eventLog() events.Publisher {
	return events.Log{Logger: logging.For("events")}
}

func newServeCmd(o *options) *cobra.Command {
	var (
		addr        string
		corsOrigins string
		shutdown    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the model worker HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			l := logging.For("main")
			if addr == "" {
				addr = cfg.Addr
			}
			if addr == "" {
				addr = defaultAddr
			}
			if corsOrigins != "" {
				cfg.CORS.Enabled = true
				cfg.CORS.AllowedOrigins = splitCSV(corsOrigins)
			}

			mgr, err := newManager(cfg)
			if err != nil {
				return err
			}
			if r := mgr.SanityCheck(); !r.OK {
				for _, c := range r.Checks {
					if !c.Found {
						l.Warn().Str("deployment", c.Deployment).Str("provider", c.Provider).
							Str("binary", c.Binary).Str("error", c.Error).Msg("engine not available")
					}
				}
			}

			httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			httpapi.SetGenerateTimeout(cfg.GenerateTimeout.D())
			httpapi.SetCORSOptions(httpapi.CORSOptions{
				Enabled:        cfg.CORS.Enabled,
				AllowedOrigins: cfg.CORS.AllowedOrigins,
				AllowedMethods: cfg.CORS.AllowedMethods,
				AllowedHeaders: cfg.CORS.AllowedHeaders,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			httpapi.SetBaseContext(ctx)

			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewMux(mgr),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				l.Info().Str("addr", addr).Int("deployments", len(mgr.Deployments())).Msg("modelcore listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					_ = mgr.Close()
					return err
				}
			case <-ctx.Done():
			}

			l.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdown)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				l.Warn().Err(err).Msg("graceful shutdown error")
			}
			return mgr.Close()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", os.Getenv("MODELCORE_ADDR"), "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	cmd.Flags().DurationVar(&shutdown, "shutdown-timeout", 5*time.Second, "Graceful HTTP shutdown timeout")
	return cmd
}
