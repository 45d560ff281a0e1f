package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mmrag/config"
	"mmrag/internal/adapter/vectorindex"
	"mmrag/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingest, retrieve and answer HTTP API",
	Long: `Serve the HTTP API. Callers identify with the X-Identity header, or with
an HS256 bearer token when server.jwt_secret_env names a secret.`,
	RunE: runServe,
}

var indexServerCmd = &cobra.Command{
	Use:   "index-server",
	Short: "Serve a persisted vector index over HTTP",
	Long: `Serve the vector index HTTP API backed by the local persisted index.
Other mmrag processes use it by setting index.remote_url.`,
	RunE: runIndexServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexServerCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	indexServerCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := httpapi.NewRouter(
		httpapi.NewRAGHandler(a.ingest, a.retrieve, a.answer, logger),
		httpapi.RouterOptions{
			CORSOrigins:    cfg.Server.CORSOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			JWTSecret:      config.Secret(cfg.Server.JWTSecretEnv),
		},
		logger)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	return listen(cmd.Context(), addr, handler)
}

func runIndexServer(cmd *cobra.Command, args []string) error {
	if err := config.EnsureDataDir(rootDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	path := cfg.Index.Path
	if path == "" {
		path = config.IndexDBPath(rootDir)
	}
	index, err := vectorindex.OpenBoltIndex(path, vectorindex.BoltOptions{
		ConfigHash:      indexConfigHash(cfg),
		RebuildOnChange: cfg.Index.RebuildOnChange,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer index.Close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.IndexAddr
	}
	return listen(cmd.Context(), addr, httpapi.NewIndexRouter(index, logger))
}

// listen serves handler on addr until ctx is cancelled, then drains
// in-flight requests.
func listen(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()
	logger.Info("listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("addr", addr))
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
