package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	payrec "github.com/Ashenafi-pixel/gamecrafter-payment-reconciler"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/config"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/journal"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/operator"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/server"
	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/snapshot"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env so DATABASE_URL and friends are set: cwd .env, or project root .env/.env.local
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")
	_ = godotenv.Load("../.env.local")
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{Logger: logger}
	deps.Journal = openJournal(ctx, cfg, logger)
	deps.Snapshots = openSnapshots(ctx, cfg, logger)
	if cfg.OperatorEndpoint != "" {
		deps.Operator = operator.NewClient(cfg.OperatorEndpoint, cfg.OperatorSecret)
	}

	srv := server.New(ctx, cfg, deps)
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server shut down")
}

// openJournal prefers Postgres when DATABASE_URL is set and falls back to the data dir.
func openJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) server.History {
	if cfg.DatabaseURL != "" {
		db, err := payrec.GetDB()
		if err == nil && db != nil {
			pj := journal.NewPostgresJournal(db)
			schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err = pj.EnsureSchema(schemaCtx); err == nil {
				logger.Info("journaling transitions to postgres")
				return pj
			}
		}
		logger.Warn("postgres journal unavailable, using file journal", zap.Error(err))
	}
	return journal.NewFileJournal(cfg.DataDir)
}

// openSnapshots prefers Redis when REDIS_ADDR is set and falls back to the data dir.
func openSnapshots(ctx context.Context, cfg *config.Config, logger *zap.Logger) reconcile.SnapshotStore {
	if addrs := cfg.RedisAddrs(); len(addrs) > 0 {
		rc := snapshot.NewRedisCache(addrs, cfg.RedisPassword, cfg.SnapshotTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := rc.Ping(pingCtx)
		if err == nil {
			logger.Info("caching payment snapshots in redis", zap.Strings("addrs", addrs))
			return rc
		}
		logger.Warn("redis unavailable, using file snapshots", zap.Error(err))
		_ = rc.Close()
	}
	fs, err := snapshot.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Warn("snapshot store disabled", zap.Error(err))
		return nil
	}
	return fs
}
