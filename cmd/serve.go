package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satyanetra/satyanetra/internal/gateway"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort    int
	serveBackend string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway in front of the scoring backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveBackend != "" {
			cfg.Backend.BaseURL = serveBackend
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		gw := gateway.New(cfg.Backend.BaseURL, cfg.Gateway)
		srv := gw.HTTPServer(fmt.Sprintf(":%d", cfg.Server.Port))
		return runServer(ctx, srv, gw.Backend())
	},
}

// runServer serves until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server, backend string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting gateway",
			zap.String("addr", srv.Addr),
			zap.String("backend", backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	})

	return g.Wait()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "", "scoring backend base URL (default from config)")
	rootCmd.AddCommand(serveCmd)
}
