//go:build tsnet

package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/clawgate/internal/config"
)

// initTailscale brings up a tsnet listener serving the same mux as the
// main gateway listener. Returns a cleanup func, or nil when Tailscale
// is not configured.
func initTailscale(ctx context.Context, cfg *config.Config, mux *http.ServeMux) func() {
	ts := cfg.Tailscale
	if ts.Hostname == "" {
		return nil
	}

	srv := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       ts.StateDir,
		AuthKey:   ts.AuthKey,
		Ephemeral: ts.Ephemeral,
	}

	var ln net.Listener
	var err error
	if ts.EnableTLS {
		ln, err = srv.ListenTLS("tcp", ":443")
	} else {
		ln, err = srv.Listen("tcp", ":80")
	}
	if err != nil {
		slog.Error("tailscale listen failed", "hostname", ts.Hostname, "error", err)
		srv.Close()
		return nil
	}

	httpSrv := &http.Server{Handler: mux}
	go func() {
		slog.Info("tailscale listener up", "hostname", ts.Hostname, "tls", ts.EnableTLS)
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("tailscale serve stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		httpSrv.Close()
	}()

	return func() {
		httpSrv.Close()
		srv.Close()
	}
}
