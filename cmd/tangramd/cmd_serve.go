package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"tangram/internal/config"
	"tangram/internal/evaluator"
	"tangram/internal/sandbox"
	"tangram/internal/server"
	"tangram/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the daemon: object store, evaluator, and HTTP surface",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(store.Paths(cfg.Paths()), cfg.FDBudget)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	sb := sandbox.New()
	ev := evaluator.New(s, cfg, sb, log)
	srv := server.New(s, ev, cfg, log)

	h2s := &http2.Server{}
	httpSrv := &http.Server{
		Handler: h2c.NewHandler(srv.Handler(), h2s),
	}

	ln, err := listen(cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	defer ln.Close()

	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	errCh := make(chan error, 1)
	go func() {
		log.Info("tangramd listening", zap.String("address", cfg.Address))
		errCh <- httpSrv.Serve(ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(ctx)
	}
}

// listen opens the daemon's listener from an "unix:///path" or
// "tcp://host:port" address (spec §6 "HTTP/2 over TCP or a Unix domain
// socket"). A bare "host:port" with no scheme is treated as tcp.
func listen(address string) (net.Listener, error) {
	u, err := url.Parse(address)
	if err != nil || u.Scheme == "" {
		return net.Listen("tcp", address)
	}
	switch u.Scheme {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		os.Remove(path)
		return net.Listen("unix", path)
	case "tcp":
		return net.Listen("tcp", u.Host)
	default:
		// "localhost:8080" parses as scheme "localhost", opaque "8080".
		if u.Opaque != "" && u.Host == "" {
			return net.Listen("tcp", address)
		}
		return nil, fmt.Errorf("unsupported address scheme %q", u.Scheme)
	}
}
