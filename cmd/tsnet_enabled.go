//go:build tsnet

package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/mobius/internal/config"
)

// startTailscale joins the tailnet and serves the gateway mux on it,
// alongside the regular listener. Returns nil when no hostname is
// configured.
func startTailscale(ctx context.Context, cfg config.TailscaleConfig, handler http.Handler) error {
	if cfg.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       cfg.StateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}
	defer srv.Close()

	ln, err := srv.Listen("tcp", ":80")
	if err != nil {
		return err
	}
	slog.Info("tailscale listener up", "hostname", cfg.Hostname)

	httpSrv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()
	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
