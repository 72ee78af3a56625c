package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tonimelisma/fsync/internal/rpcserver"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// for instance, giving the RPC server and in-flight sync operations a chance
// to drain. A second signal means the graceful path is stuck (or the
// operator wants out now): srv is force-closed so its port file doesn't
// linger and point a future fsync CLI invocation at a dead daemon, and the
// process exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger, instance string, srv *rpcserver.Server) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				"instance", instance, "signal", sig.String())
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing shutdown",
				"instance", instance, "signal", sig.String())

			if err := srv.Shutdown(); err != nil {
				logger.Warn("error force-closing rpc server", "instance", instance, "error", err)
			}

			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
