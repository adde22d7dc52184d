package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unsearch/syncd/internal/engine"
	"github.com/unsearch/syncd/internal/store"
	"github.com/unsearch/syncd/internal/ws"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath        string
	Addr              string
	Database          string
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket sync server",
		Long: `Start the websocket sync server.

Opens (creating if needed) the SQLite database, then accepts browser
session connections. Sessions authenticate with a JWT signed by the
configured secret; the secret comes from the config file's jwt_secret
or the SYNCD_JWT_SECRET environment variable.

Example:
  syncd serve --db ./syncd.db --addr :8090
  syncd serve --config ./syncd.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().DurationVar(&opts.HandshakeTimeout, "handshake-timeout", 0, "max time to complete AUTH and ID (overrides config)")
	cmd.Flags().DurationVar(&opts.HeartbeatInterval, "heartbeat-interval", 0, "min interval between liveness writes (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = Duration(opts.HandshakeTimeout)
	}
	if opts.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = Duration(opts.HeartbeatInterval)
	}
	if cfg.JWTSecret == "" {
		return NewExitError(ExitCommandError, "jwt secret is not set (jwt_secret in config, or SYNCD_JWT_SECRET)")
	}

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	registry := engine.NewRegistry()
	dispatcher := engine.NewDispatcher(st, registry)
	reconciler := engine.NewReconciler(st, dispatcher)
	server := ws.NewServer(ws.Config{
		Addr:              cfg.Addr,
		HandshakeTimeout:  time.Duration(cfg.HandshakeTimeout),
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval),
	}, st, dispatcher, reconciler, ws.NewTokenVerifier(cfg.JWTSecret))

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Sync server started. Press Ctrl-C to stop.")

	select {
	case sig := <-sigChan:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	case err := <-errChan:
		if err != nil {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
