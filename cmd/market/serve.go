package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/utils"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Run the local render bridge with background mirror sync",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(cctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		// A missing login is not fatal here; the bridge exposes /auth/login.
		if err := a.EnsureSession(ctx); err != nil {
			utils.Logger.WithError(err).Warn("Starting without a session")
		} else if _, _, err := a.SyncBindings(ctx, false); err != nil {
			utils.Logger.WithError(err).Error("Failed to apply repository bindings")
		}

		if err := a.StartScheduler(); err != nil {
			return err
		}

		srv := &http.Server{Addr: a.Config.BindAddr, Handler: a.Handler()}
		errCh := make(chan error, 1)
		go func() {
			utils.Logger.Infof("Starting %s render bridge on %s", a.Config.AppName, a.Config.BindAddr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		utils.Logger.Info("Shutting down render bridge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
