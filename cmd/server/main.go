package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"issuer/internal/audit"
	"issuer/internal/keys"
	"issuer/internal/platform/config"
	"issuer/internal/platform/httpserver"
	"issuer/internal/platform/logger"
	platformredis "issuer/internal/platform/redis"
	"issuer/internal/provider"
	"issuer/internal/storage"
	"issuer/internal/token"
	httptransport "issuer/internal/transport/http"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Protocol logic lives in the internal packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx := context.Background()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Absent keys would mean unsigned tokens; refuse to start instead.
	keyManager, err := keys.NewManager(ctx, store, log)
	if err != nil {
		log.Error("key provisioning failed", "error", err)
		os.Exit(1)
	}

	auditor, closeAudit, err := buildAuditor(ctx, cfg, log)
	if err != nil {
		log.Error("audit sink init failed", "error", err)
		os.Exit(1)
	}
	defer closeAudit()

	tokens := token.NewService(token.Config{
		Issuer:      cfg.Issuer,
		ReuseWindow: cfg.ReuseWindow,
	}, store, keyManager, auditor, log)

	srv, err := httptransport.NewServer(httptransport.Config{
		Issuer:                cfg.Issuer,
		PathPrefix:            cfg.PathPrefix,
		TTL:                   token.TTL{Access: cfg.AccessTTL, Refresh: cfg.RefreshTTL},
		ExtraTwoLabelSuffixes: cfg.ExtraTwoLabelSuffixes,
	}, store, keyManager, tokens, buildProviders(cfg), auditor, log)
	if err != nil {
		log.Error("server init failed", "error", err)
		os.Exit(1)
	}
	router, err := srv.Router()
	if err != nil {
		log.Error("router init failed", "error", err)
		os.Exit(1)
	}

	httpSrv := httpserver.New(cfg.Addr, router)
	log.Info("starting issuer", "addr", cfg.Addr, "issuer", cfg.Issuer)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	if err := httpserver.Shutdown(ctx, httpSrv); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildStore prefers Redis, then Postgres, then process-local memory.
func buildStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	if cfg.RedisURL != "" {
		client, err := platformredis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(client.Client), func() { client.Close() }, nil
	}
	if cfg.PostgresDSN != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	store := storage.NewMemoryStore()
	return store, func() { _ = store.Close() }, nil
}

func buildAuditor(ctx context.Context, cfg config.Config, log *slog.Logger) (audit.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return audit.NewMemoryPublisher(), func() {}, nil
	}
	publisher, err := audit.NewKafkaPublisher(ctx, cfg.KafkaBrokers, log)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() { _ = publisher.Close(ctx) }, nil
}

func buildProviders(cfg config.Config) []provider.Provider {
	base := cfg.Issuer
	if cfg.PathPrefix != "" && cfg.PathPrefix != "/" {
		base += cfg.PathPrefix
	}

	var providers []provider.Provider
	if cfg.GitHub.ClientID != "" {
		providers = append(providers, provider.GitHub(
			cfg.GitHub.ClientID, cfg.GitHub.ClientSecret, base+"/github/callback"))
	}
	if cfg.Google.ClientID != "" {
		providers = append(providers, provider.Google(
			cfg.Google.ClientID, cfg.Google.ClientSecret, base+"/google/callback"))
	}
	return providers
}
