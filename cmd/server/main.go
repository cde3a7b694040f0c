package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/onboard/internal/archive"
	"github.com/JonMunkholm/onboard/internal/cloud"
	"github.com/JonMunkholm/onboard/internal/config"
	"github.com/JonMunkholm/onboard/internal/core"
	"github.com/JonMunkholm/onboard/internal/events"
	"github.com/JonMunkholm/onboard/internal/logging"
	"github.com/JonMunkholm/onboard/internal/offload"
	"github.com/JonMunkholm/onboard/internal/runlock"
	"github.com/JonMunkholm/onboard/internal/store/memstore"
	"github.com/JonMunkholm/onboard/internal/store/mongostore"
	"github.com/JonMunkholm/onboard/internal/store/postgres"
	"github.com/JonMunkholm/onboard/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Backend,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"offload_enabled", cfg.OffloadEnabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	opts, closeDeps, err := serviceOptions(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure service", "error", err)
		os.Exit(1)
	}
	defer closeDeps()

	service := core.NewService(store, core.ServiceConfig{
		BatchSize:        cfg.Import.BatchSize,
		RetractBatchSize: cfg.Import.RetractBatchSize,
		OffloadThreshold: cfg.Import.OffloadThreshold,
		MaxConcurrent:    cfg.Import.MaxConcurrent,
		MaxWaitTime:      cfg.Import.MaxWaitTime,
		Timeout:          cfg.Import.Timeout,
		RetractTimeout:   cfg.Import.RetractTimeout,
		HistoryLimit:     cfg.Import.HistoryLimit,
		MaxFileSize:      cfg.Import.MaxFileSize,
	}, opts...)

	// Create server with config
	server := web.NewServer(service, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active imports to complete (with timeout)
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time, cancelling", "error", err)
				service.CancelAll()
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore connects the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		logDatabase(cfg.Database.URL)

		store := postgres.New(pool)
		if cfg.Store.Migrate {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
			slog.Info("schema applied")
		}
		return store, pool.Close, nil

	case config.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				slog.Warn("mongo disconnect failed", "error", err)
			}
		}

		store := mongostore.New(client, cfg.Mongo.Database)
		if err := store.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, err
		}
		slog.Info("connected to mongo", "database", cfg.Mongo.Database)
		return store, disconnect, nil

	case config.BackendMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// serviceOptions builds the optional collaborators: the shared run lock,
// the remote import function, the file archive and the event topic.
func serviceOptions(ctx context.Context, cfg *config.Config) ([]core.Option, func(), error) {
	var (
		opts    []core.Option
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.URL != "" {
		client, err := runlock.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, core.WithRunLock(runlock.NewRedis(client, cfg.Redis.LockTTL)))
		slog.Info("import locks shared through redis", "ttl", cfg.Redis.LockTTL)
	}

	if cfg.OffloadEnabled() {
		invoker := offload.NewHTTPInvoker(cfg.Offload.URL, cfg.Offload.Timeout, offload.WithToken(cfg.Offload.Token))
		opts = append(opts, core.WithOffload(invoker))
		slog.Info("offload enabled", "threshold", cfg.Import.OffloadThreshold)
	}

	if cfg.AWSEnabled() {
		awsCfg, err := cloud.LoadConfig(ctx, cfg.AWS)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		if cfg.AWS.ArchiveBucket != "" {
			client := cloud.NewS3Client(awsCfg, cfg.AWS.Endpoint)
			opts = append(opts, core.WithArchiver(archive.NewS3Archiver(client, cfg.AWS.ArchiveBucket, cfg.AWS.ArchivePrefix)))
			slog.Info("import archive enabled", "bucket", cfg.AWS.ArchiveBucket)
		}
		if cfg.AWS.EventsTopicARN != "" {
			client := cloud.NewSNSClient(awsCfg, cfg.AWS.Endpoint)
			opts = append(opts, core.WithEvents(events.NewSNSPublisher(client, cfg.AWS.EventsTopicARN)))
			slog.Info("import events enabled", "topic", cfg.AWS.EventsTopicARN)
		}
	}

	return opts, closeAll, nil
}

// logDatabase logs which database we connected to without the credentials.
func logDatabase(dbURL string) {
	if u, err := url.Parse(dbURL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		return
	}
	slog.Info("connected to database")
}
