//go:build !tsnet

package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/mobius/internal/config"
)

// startTailscale is a no-op in builds without the tsnet tag.
func startTailscale(ctx context.Context, cfg config.TailscaleConfig, handler http.Handler) error {
	if cfg.Hostname != "" {
		slog.Warn("tailscale.hostname set but this binary was built without -tags tsnet")
	}
	return nil
}
