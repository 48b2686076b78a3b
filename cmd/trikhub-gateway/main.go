// Command trikhub-gateway runs the gateway process: it loads installed
// triks, opens the storage backend, and serves the HTTP (and optionally MCP)
// facade until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Molefas/trikhub/internal/common/logtrace"
	"github.com/Molefas/trikhub/internal/gateway"
	"github.com/Molefas/trikhub/internal/gateway/config"
	"github.com/Molefas/trikhub/internal/gateway/server"
	"github.com/Molefas/trikhub/internal/gateway/storage"
	"github.com/Molefas/trikhub/internal/gateway/versions"
)

func init() {
	logtrace.InitLogger()
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("gateway failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:     "trikhub-gateway",
		Short:   "TrikHub security gateway",
		Version: versions.Version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFile)
		},
	}
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the gateway TOML config file")
	cmd.AddCommand(serveCmd)
	return cmd
}

func runServe(ctx context.Context, configFile string) error {
	slog := log.With().Str("state", "init").Logger()

	slog.Info().Str("config_file", configFile).Msg("loading config")
	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c := config.Config()

	provider, err := openStorage(ctx, c)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	g := gateway.New(gateway.Config{
		StorageProvider: provider,
		ContentTTL:      c.ContentTTL(),
		Workers:         c.WorkerConfigs(),
	})

	if c.TriksDir != "" {
		manifests, lerr := g.LoadTriksFromDirectory(c.TriksDir)
		if lerr != nil {
			return fmt.Errorf("loading triks from %s: %w", c.TriksDir, lerr)
		}
		slog.Info().Int("count", len(manifests)).Msg("loaded triks from directory")
	}
	if c.ConfigPath != "" {
		manifests, lerr := g.LoadTriksFromConfig(gateway.LoadFromConfigOptions{ConfigPath: c.ConfigPath})
		if lerr != nil {
			return fmt.Errorf("loading triks from config: %w", lerr)
		}
		slog.Info().Int("count", len(manifests)).Msg("loaded triks from config")
	}

	srv := server.New(g, server.Config{
		AuthSecret: c.Auth.SharedSecret,
		HandleCORS: c.HandleCORS,
	})
	if c.EnableMCP {
		srv.MountMCP()
	}

	addr := c.ServerHostName + ":" + c.ServerPort
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", addr).Msg("gateway listening")
		serverErrors <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	g.Shutdown(shutdownCtx)
	return nil
}

func openStorage(ctx context.Context, c *config.ConfigParam) (storage.Provider, error) {
	switch c.Storage.Backend {
	case "postgres":
		return storage.NewPostgresProvider(ctx, storage.PostgresProviderOptions{
			DSN:      c.Storage.DSN,
			Compress: c.Storage.Compress,
		})
	default:
		return storage.NewMemoryProvider(), nil
	}
}
