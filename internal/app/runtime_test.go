package app_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestNewLockerMemory(t *testing.T) {
	locker, err := app.NewLocker(&app.Config{LockBackend: app.LockBackendMemory, LockWait: time.Second}, nil)
	require.NoError(t, err)
	require.IsType(t, &shared.KeyedMutex{}, locker)
}

func TestNewLockerRedis(t *testing.T) {
	cfg := &app.Config{LockBackend: app.LockBackendRedis, LockTTL: time.Second, LockWait: 50 * time.Millisecond}

	_, err := app.NewLocker(cfg, nil)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker, err := app.NewLocker(cfg, client)
	require.NoError(t, err)
	require.IsType(t, &shared.RedisLocker{}, locker)

	unlock, err := locker.Acquire(context.Background(), shared.ItemLockKey("I1"))
	require.NoError(t, err)
	require.True(t, mr.Exists(shared.ItemLockKey("I1")))
	unlock()
	require.False(t, mr.Exists(shared.ItemLockKey("I1")))
}

func TestNewLockerUnknownBackend(t *testing.T) {
	_, err := app.NewLocker(&app.Config{LockBackend: "zookeeper"}, nil)
	require.Error(t, err)
	_, err = app.NewLocker(nil, nil)
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("LOCK_BACKEND", " Redis ")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("POSTING_SKIP_MISSING_ITEMS", "true")

	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, app.LockBackendRedis, cfg.LockBackend)
	require.Equal(t, 1, cfg.WorkerConcurrency)
	require.True(t, cfg.SkipMissingItems)
	require.Equal(t, 30*time.Second, cfg.OpsRequestTimeout)
	require.False(t, cfg.IsProduction())

	t.Setenv("LOCK_BACKEND", "etcd")
	_, err = app.LoadConfig()
	require.Error(t, err)
}

func TestRefreshTestMode(t *testing.T) {
	t.Cleanup(app.RefreshTestMode)
	t.Setenv("BACKOFFICE_TEST_MODE", "1")
	app.RefreshTestMode()
	require.True(t, app.InTestMode())

	t.Setenv("BACKOFFICE_TEST_MODE", "0")
	app.RefreshTestMode()
	require.False(t, app.InTestMode())
}
