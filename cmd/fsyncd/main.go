// Command fsyncd is the background synchronization daemon (spec.md §4.9):
// one instance binds one local directory to one remote provider and serves
// the loopback RPC protocol described in internal/rpcserver.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/fsync/internal/config"
	"github.com/tonimelisma/fsync/internal/difftree"
	"github.com/tonimelisma/fsync/internal/engine"
	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/metacache"
	"github.com/tonimelisma/fsync/internal/oauth2token"
	"github.com/tonimelisma/fsync/internal/rpcserver"
	"github.com/tonimelisma/fsync/internal/storage/localcloud"
	"github.com/tonimelisma/fsync/internal/storage/localfs"
)

var logLevel string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fsyncd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fsyncd <instance>",
		Short:         "fsync background synchronization daemon",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), args[0])
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("RUST_LOG", "info"),
		"log level: debug, info, warn, error")

	return cmd
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func buildLogger() *slog.Logger {
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// runDaemon implements the startup sequence from spec.md §4.9: resolve
// instance → load config → local storage → OAuth2 client → cloud storage →
// metadata cache → diff tree → signal handlers → RPC. Shutdown persists
// both caches concurrently.
func runDaemon(ctx context.Context, instance string) error {
	logger := buildLogger()
	paths := config.ForInstance(instance)

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	local := localfs.New(cfg.LocalDir, logger)

	tokenProvider, remoteRoot, err := setupProvider(ctx, cfg, paths)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(remoteRoot, 0o755); err != nil {
		return fmt.Errorf("preparing remote root %s: %w", remoteRoot, err)
	}

	cloudBackend := localcloud.New(remoteRoot)
	remote := metacache.New(cloudBackend, logger)

	if !remote.LoadSidecar(paths.EntryCache, logger) {
		logger.Info("entry cache unavailable, enumerating remote", "instance", instance)

		if err := remote.Enumerate(ctx); err != nil {
			return fmt.Errorf("enumerating remote: %w", err)
		}
	}

	tree, err := difftree.Build(ctx, local, remote, logger)
	if err != nil {
		return fmt.Errorf("building diff tree: %w", err)
	}

	var onAuthRetry func()
	if tokenProvider != nil {
		onAuthRetry = func() { tokenProvider.Invalidate(driveScopes) }
	}

	eng := engine.New(tree, local, remote, logger, onAuthRetry)
	srv := rpcserver.New(eng, logger)

	runCtx := shutdownContext(ctx, logger, instance, srv)

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.Serve(runCtx, paths.PortFile)
	}()

	logger.Info("fsyncd started", "instance", instance)

	<-runCtx.Done()

	if err := <-serveErr; err != nil {
		logger.Warn("rpc server stopped with error", "error", err)
	}

	if err := persistCaches(tokenProvider, remote, paths.EntryCache); err != nil {
		return fmt.Errorf("persisting caches at shutdown: %w", err)
	}

	logger.Info("fsyncd stopped", "instance", instance)

	return nil
}

// setupProvider constructs the OAuth2 token provider (GoogleDrive only) and
// resolves the directory the cloud ID-storage backend is rooted at.
func setupProvider(ctx context.Context, cfg *config.Config, paths config.InstancePaths) (*oauth2token.Provider, string, error) {
	if cfg.Provider.Kind != config.ProviderGoogleDrive {
		if cfg.Provider.LocalFsPath == "" {
			return nil, "", fmt.Errorf("provider LocalFs requires a root directory")
		}

		return nil, cfg.Provider.LocalFsPath, nil
	}

	oauthCfg, err := loadOAuth2Config(paths.ClientSecret)
	if err != nil {
		return nil, "", fmt.Errorf("loading oauth2 client: %w", err)
	}

	provider := oauth2token.New(oauthCfg, nil, oauth2token.PersistMemoryAndDisk, paths.TokenCache)

	if _, err := provider.GetToken(ctx, driveScopes); err != nil {
		return nil, "", fserrors.New(fserrors.ClassAuth, "validating cloud account", err)
	}

	if cfg.Provider.Root == "" {
		return nil, "", fmt.Errorf("provider GoogleDrive requires a root directory")
	}

	return provider, cfg.Provider.Root, nil
}

func persistCaches(tokenProvider *oauth2token.Provider, remote *metacache.Cache, entryCachePath string) error {
	var g errgroup.Group

	if tokenProvider != nil {
		g.Go(tokenProvider.PersistCache)
	}

	g.Go(func() error {
		return remote.PersistSidecar(entryCachePath)
	})

	return g.Wait()
}
