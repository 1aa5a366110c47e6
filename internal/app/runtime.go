package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/backoffice/internal/ledger"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/posting"
	"github.com/odyssey-erp/backoffice/internal/reconcile"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/internal/stock"
	"github.com/odyssey-erp/backoffice/internal/stockimport"
)

const testModeEnv = "BACKOFFICE_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether commands should skip connecting to external services.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	detectTestMode()
}

// NewLocker selects the Locker backend named by cfg.LockBackend. client is required for redis.
func NewLocker(cfg *Config, client *redis.Client) (shared.Locker, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	switch cfg.LockBackend {
	case LockBackendMemory, "":
		return shared.NewKeyedMutex(cfg.LockWait), nil
	case LockBackendRedis:
		if client == nil {
			return nil, errors.New("app: redis lock backend requires a redis client")
		}
		return shared.NewRedisLocker(client, cfg.LockTTL, cfg.LockWait), nil
	default:
		return nil, fmt.Errorf("app: unknown lock backend %q", cfg.LockBackend)
	}
}

// Runtime holds the wired services shared by the worker and the CLI.
type Runtime struct {
	Config  *Config
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Locker  shared.Locker
	Metrics *observability.Metrics

	Engine    *posting.Engine
	Queries   *posting.Queries
	Ledger    *ledger.Service
	Reconcile *reconcile.Service
	Importer  *stockimport.Service
}

// Bootstrap connects to Postgres (and Redis when the lock backend needs it) and wires the services.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Config: cfg, Logger: logger, Pool: pool, Metrics: observability.NewMetrics()}
	if cfg.LockBackend == LockBackendRedis {
		rt.Redis, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	rt.Locker, err = NewLocker(cfg, rt.Redis)
	if err != nil {
		rt.Close()
		return nil, err
	}

	postingRepo := posting.NewRepository(pool)
	stockSvc := stock.NewService(stock.NewRepository(pool), logger)
	rt.Ledger = ledger.NewService(ledger.NewRepository(pool), rt.Locker, logger)
	rt.Engine = posting.NewEngine(postingRepo, rt.Locker, shared.NewAuditLogger(pool), rt.Metrics, logger,
		posting.EngineConfig{SkipMissingItems: cfg.SkipMissingItems})
	rt.Queries = posting.NewQueries(stockSvc, rt.Ledger)
	rt.Reconcile = reconcile.NewService(reconcile.NewRepository(pool), logger)
	rt.Importer = stockimport.NewService(postingRepo, rt.Locker, logger)
	return rt, nil
}

// Close releases the connections opened by Bootstrap.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
