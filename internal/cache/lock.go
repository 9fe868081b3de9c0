package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld reports that another writer holds the lock.
var ErrLockHeld = errors.New("cache: lock held by another writer")

// Locker provides the single-writer guarantee for artifact rebuilds.
// Acquire does not block; it returns ErrLockHeld when contended.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NopLocker never contends. It is only safe with a single process.
type NopLocker struct{}

// Acquire implements Locker.
func (NopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// FileLocker uses an O_EXCL lock file next to the artifact. Lock files older
// than the TTL are treated as abandoned and removed.
type FileLocker struct {
	Dir string
}

// Acquire implements Locker.
func (l FileLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(l.Dir, filepath.Base(key)+".lock")
	token := uuid.NewString()

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(token)
			_ = f.Close()
			released := false
			return func() {
				if released {
					return
				}
				released = true
				if data, err := os.ReadFile(path); err == nil && string(data) == token {
					_ = os.Remove(path)
				}
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil || ttl <= 0 || time.Since(info.ModTime()) < ttl {
			return nil, ErrLockHeld
		}
		_ = os.Remove(path)
	}
	return nil, ErrLockHeld
}

const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker is a SETNX lock with a TTL and token-checked release.
type RedisLocker struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
}

// NewRedisLocker wraps a go-redis client.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb, unlockSc: redis.NewScript(unlockLua)}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := "lock:" + key
	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
	}, nil
}

// AdvisoryLocker is satisfied by the Postgres store.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// PostgresLocker adapts a session-level advisory lock to Locker. The string
// key is ignored; all writers share LockID.
type PostgresLocker struct {
	Store  AdvisoryLocker
	LockID int64
}

// Acquire implements Locker.
func (l PostgresLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (func(), error) {
	unlock, ok, err := l.Store.TryAdvisoryLock(ctx, l.LockID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return unlock, nil
}

// acquireWait polls until the lock is granted, ctx ends, or wait elapses.
func acquireWait(ctx context.Context, l Locker, key string, ttl, wait, poll time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}
