package shared

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ItemLockKey builds lock keys for stock critical sections.
func ItemLockKey(itemID string) string {
	return fmt.Sprintf("stock:item:%s:lock", itemID)
}

// CustomerLockKey builds lock keys for ledger critical sections.
func CustomerLockKey(customerID string) string {
	return fmt.Sprintf("ledger:customer:%s:lock", customerID)
}

// DocumentLockKey builds lock keys for a single posting document.
func DocumentLockKey(docID string) string {
	return fmt.Sprintf("posting:document:%s:lock", docID)
}

// Unlock releases every key obtained by a single Acquire call.
type Unlock func()

// Locker serializes commands per key across callers.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Unlock, error)
}

// SortedKeys deduplicates and orders keys so that every caller acquires them in the same order.
func SortedKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex is an in-process Locker.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
	wait  time.Duration
}

// NewKeyedMutex constructs KeyedMutex. A zero wait blocks until ctx is done.
func NewKeyedMutex(wait time.Duration) *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock), wait: wait}
}

// Acquire obtains all keys in sorted order or none of them.
func (m *KeyedMutex) Acquire(ctx context.Context, keys ...string) (Unlock, error) {
	if m.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.wait)
		defer cancel()
	}
	ordered := SortedKeys(keys)
	held := make([]string, 0, len(ordered))
	for _, key := range ordered {
		if err := m.lock(ctx, key); err != nil {
			m.release(held)
			return nil, &ConcurrencyConflictError{Resource: key, Err: err}
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(func() { m.release(held) }) }, nil
}

func (m *KeyedMutex) lock(ctx context.Context, key string) error {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		m.drop(key, l)
		return ctx.Err()
	}
}

func (m *KeyedMutex) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		m.mu.Lock()
		l := m.locks[keys[i]]
		m.mu.Unlock()
		if l == nil {
			continue
		}
		<-l.ch
		m.drop(keys[i], l)
	}
}

func (m *KeyedMutex) drop(key string, l *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// RedisLocker is a Locker backed by redislock for multi-instance deployments.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs RedisLocker on an existing redis client.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

// Acquire obtains all keys in sorted order or none of them.
func (l *RedisLocker) Acquire(ctx context.Context, keys ...string) (Unlock, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis locker not initialised")
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ordered := SortedKeys(keys)
	held := make([]*redislock.Lock, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(context.WithoutCancel(ctx))
		}
	}
	for _, key := range ordered {
		lock, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(l.retry),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, &ConcurrencyConflictError{Resource: key, Err: err}
			}
			return nil, fmt.Errorf("shared: obtain lock %s: %w", key, err)
		}
		held = append(held, lock)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}
