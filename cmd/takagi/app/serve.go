package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/celsiusnarhwal/takagi/pkg/config"
	"github.com/celsiusnarhwal/takagi/pkg/keyset"
	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/provider"
	"github.com/celsiusnarhwal/takagi/pkg/storage"
	"github.com/celsiusnarhwal/takagi/pkg/tokens"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the OIDC provider",
	Long: `Start the HTTP server for the selected service. All behavior is driven by
environment variables with the service's prefix (TAKAGI_ or SNOWFLAKE_).`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second // Enough for headers and small form bodies
	serverWriteTimeout     = 35 * time.Second // Must exceed the 30s request timeout so the middleware answers first
	serverIdleTimeout      = 60 * time.Second // Keep connections alive for reuse
)

func init() {
	serveCmd.Flags().String("host", "0.0.0.0", "Host to listen on")
	serveCmd.Flags().Int("port", 8000, "Port to listen on")

	if err := viper.BindPFlag("host", serveCmd.Flags().Lookup("host")); err != nil {
		logger.Fatalf("Failed to bind host flag: %v", err)
	}
	if err := viper.BindPFlag("port", serveCmd.Flags().Lookup("port")); err != nil {
		logger.Fatalf("Failed to bind port flag: %v", err)
	}
}

// upstreamFor pairs a service persona with its upstream identity provider.
func upstreamFor(service config.Service) upstream.Provider {
	if service.Slug == config.Snowflake.Slug {
		return upstream.NewDiscord()
	}
	return upstream.NewGitHub()
}

// newStorage builds the transaction store: Redis when REDIS_URL is set,
// otherwise in-memory. The key prefix keeps Takagi and Snowflake apart when
// they share a Redis.
func newStorage(ctx context.Context, settings *config.Settings) (storage.Storage, error) {
	cfg := storage.DefaultConfig()
	cfg.TransactionTTL = settings.TransactionTTL

	if settings.RedisURL != "" {
		store, err := storage.NewRedisStorage(ctx, settings.RedisURL, settings.Service.Slug, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Infof("Using Redis transaction storage")
		return store, nil
	}
	return storage.NewMemoryStorage(cfg), nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	service, err := selectedService()
	if err != nil {
		return err
	}

	settings, err := config.Load(service)
	if err != nil {
		return err
	}

	keys, err := keyset.Load(keyset.LoadOptions{
		KeysetJSON: settings.Keyset,
		KeysetFile: settings.KeysetFile,
		DataDir:    settings.DataDir,
	})
	if err != nil {
		return err
	}

	store, err := newStorage(ctx, settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close storage: %v", err)
		}
	}()

	up := upstreamFor(service)
	tokenService := tokens.NewService(keys, settings.TokenLifetime)
	handler := provider.NewHandler(settings, keys, tokenService, store, up)

	var router http.Handler = handler.Router()
	if settings.BasePath != "" {
		outer := chi.NewRouter()
		outer.Mount(settings.BasePath, router)
		router = outer
	}

	address := net.JoinHostPort(viper.GetString("host"), fmt.Sprint(viper.GetInt("port")))
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("%s listening on %s (upstream: %s)", service.Name, address, up.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
