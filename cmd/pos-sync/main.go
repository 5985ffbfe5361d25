package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/Corely-AI/pos-outbox-go/internal/api"
	"github.com/Corely-AI/pos-outbox-go/internal/application"
	"github.com/Corely-AI/pos-outbox-go/internal/config"
	"github.com/Corely-AI/pos-outbox-go/internal/domain"
	dbinfra "github.com/Corely-AI/pos-outbox-go/internal/infrastructure/db"
	"github.com/Corely-AI/pos-outbox-go/internal/infrastructure/locking"
	"github.com/Corely-AI/pos-outbox-go/internal/infrastructure/network"
	"github.com/Corely-AI/pos-outbox-go/internal/infrastructure/transport"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("starting pos-sync", "port", cfg.HttpPort, "store", cfg.StoreBackend, "lock", cfg.LockBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Outbox store
	var (
		repo     domain.OutboxRepository
		deviceDB *sql.DB
	)
	switch cfg.StoreBackend {
	case "postgres":
		pgConn, err := sql.Open("pgx", cfg.PgDsn)
		if err != nil {
			logger.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer pgConn.Close()
		if err := pgConn.PingContext(ctx); err != nil {
			logger.Error("failed to ping postgres", "error", err)
			os.Exit(1)
		}
		pgRepo := dbinfra.NewPgOutboxRepository(pgConn)
		if err := pgRepo.Migrate(ctx); err != nil {
			logger.Error("failed to migrate postgres outbox", "error", err)
			os.Exit(1)
		}
		repo = pgRepo
	case "memory":
		repo = dbinfra.NewMemoryOutboxRepository()
	default:
		conn, err := sql.Open("sqlite", cfg.SqlitePath)
		if err != nil {
			logger.Error("failed to open sqlite", "path", cfg.SqlitePath, "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		deviceDB = conn
		sqliteRepo, err := dbinfra.NewSQLiteOutboxRepository(conn)
		if err != nil {
			logger.Error("failed to migrate sqlite outbox", "error", err)
			os.Exit(1)
		}
		repo = sqliteRepo
	}

	// Sync lock
	lockTTL := time.Duration(cfg.LockTTLSec) * time.Second
	var lock domain.SyncLock
	switch cfg.LockBackend {
	case "redis":
		lock = locking.NewRedisLock(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), lockTTL)
	case "sqlite":
		if deviceDB == nil {
			logger.Error("sqlite lock backend requires the sqlite store backend")
			os.Exit(1)
		}
		sqliteLock, err := locking.NewSQLiteLock(deviceDB, lockTTL)
		if err != nil {
			logger.Error("failed to migrate sqlite lock", "error", err)
			os.Exit(1)
		}
		lock = sqliteLock
	default:
		lock = locking.NewLocalLock(lockTTL)
	}

	// Command registry with the built-in POS catalog
	registry := application.NewRegistry()
	application.RegisterPOSCommands(registry)
	enqueueSvc := application.NewEnqueueService(registry, repo, logger)

	// Network monitor + heartbeat prober
	monitor := network.NewMonitor(domain.NetworkOffline)
	prober := network.NewProber(monitor, cfg.ServerBaseURL+"/health",
		time.Duration(cfg.ProbeIntervalSec)*time.Second, logger)
	prober.Start(ctx)

	// Sync engine
	backoff := domain.BackoffPolicy{
		Base: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		Max:  time.Duration(cfg.BackoffMaxMs) * time.Millisecond,
	}
	submitter := transport.NewHTTPSubmitter(cfg.ServerBaseURL)
	engine := application.NewSyncEngine(repo, lock, submitter, monitor, backoff, logger)

	// Requeue commands left SYNCING by a previous crash, then enroll the
	// workspace for connectivity triggers.
	for _, ws := range cfg.WorkspaceIDs {
		if _, err := engine.Recover(ctx, ws); err != nil {
			logger.Warn("recovery failed", "workspaceId", ws, "error", err)
		}
		engine.RegisterWorkspace(ws)
		engine.TriggerSync(ws)
	}

	// Opportunistic housekeeping of old SENT commands
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.PurgeRetentionDays)
	if n, err := repo.PurgeSent(ctx, cutoff); err != nil {
		logger.Warn("purge sent failed", "error", err)
	} else if n > 0 {
		logger.Info("purged sent commands", "count", n)
	}

	// HTTP API
	mux := http.NewServeMux()
	apiServer := api.NewServer(cfg, repo, registry, enqueueSvc, engine, monitor, logger)
	apiServer.RegisterRoutes(mux)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HttpPort,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down pos-sync", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	engine.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
}
