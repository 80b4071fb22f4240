package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/openforum/skyrelay/internal/adapter/driven/bluesky"
	sqliteadapter "github.com/openforum/skyrelay/internal/adapter/driven/sqlite"
	httphandler "github.com/openforum/skyrelay/internal/adapter/driving/http"
	"github.com/openforum/skyrelay/internal/application"
	"github.com/openforum/skyrelay/internal/config"
	"github.com/openforum/skyrelay/internal/vault"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"pds_url", cfg.PDSURL,
		"refresh_interval", cfg.RefreshInterval,
		"platform_broadcaster", cfg.HasPlatformBroadcaster(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the credential vault.
	v, err := vault.New(cfg.SecretKey)
	if err != nil {
		return err
	}

	// 4. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 5. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 6. Wire adapters.
	identityStore := sqliteadapter.NewIdentityRepo(db)
	replyStore := sqliteadapter.NewReplyRepo(db)
	client := bluesky.NewClient(cfg.PDSURL)

	// 7. Wire application services.
	cache := application.NewSessionCache()
	platform := application.PlatformBroadcaster{
		AccountID:   cfg.PlatformAccountID,
		Identifier:  cfg.PlatformIdentifier,
		AppPassword: cfg.PlatformAppPassword,
	}
	lifecycleSvc := application.NewLifecycleService(client, identityStore, v, cache, platform, cfg.SessionTTL)
	broadcastSvc := application.NewBroadcastService(lifecycleSvc, client, cfg.PlatformTag)
	importSvc := application.NewImportService(lifecycleSvc, client, replyStore)

	// 8. Start the background credential refresh loop.
	scheduler := application.NewRefreshScheduler(lifecycleSvc, cfg.RefreshInterval)
	go scheduler.Start(ctx)

	// 9. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(lifecycleSvc, broadcastSvc, importSvc)
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("skyrelay started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
