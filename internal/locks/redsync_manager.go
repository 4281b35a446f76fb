package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/redis"
)

// RedsyncManager holds Redlock locks through go-redsync. Held locks are
// extended in the background so a long job run keeps its lock.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	localLocks map[string]*RedsyncLock
	mutex      sync.RWMutex
	logger     logging.Logger
}

// RedsyncLock wraps a redsync.Mutex and its renewal loop
type RedsyncLock struct {
	mutex      *redsync.Mutex
	key        string
	expiration time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	manager    *RedsyncManager
	once       sync.Once
}

// NewRedsyncManager creates a lock manager on the given Redis client
func NewRedsyncManager(redisClient *redis.Client) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigurationError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		localLocks: make(map[string]*RedsyncLock),
		logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "locks"}),
	}, nil
}

// AcquireLock makes a single attempt at key. A lock held by another
// instance fails with ErrNotAcquired.
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(expiration),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		var nodeTaken *redsync.ErrNodeTaken
		if stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &taken) || stderrors.As(err, &nodeTaken) {
			return nil, ErrNotAcquired
		}
		return nil, errors.ConnectionError("failed to acquire distributed lock", err)
	}

	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:      mutex,
		key:        key,
		expiration: expiration,
		ctx:        lockCtx,
		cancel:     cancel,
		manager:    rm,
	}

	rm.mutex.Lock()
	rm.localLocks[key] = lock
	rm.mutex.Unlock()

	go rm.renewLock(lock)

	return lock, nil
}

// renewLock extends the lock at a third of its expiry, at least every second
func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	renewInterval := lock.expiration / 3
	if renewInterval < time.Second {
		renewInterval = time.Second
	}

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.logger.Warn("Lost distributed lock", logging.Field{Key: "key", Value: lock.key})
				lock.release()
				return
			}
		}
	}
}

// Close releases all locks held by this manager
func (rm *RedsyncManager) Close() error {
	rm.mutex.RLock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for _, lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.RUnlock()

	for _, lock := range held {
		lock.release()
	}
	return nil
}

// Key returns the lock name
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and unlocks in Redis
func (rl *RedsyncLock) Release(ctx context.Context) error {
	rl.release()
	return nil
}

func (rl *RedsyncLock) release() {
	rl.once.Do(func() {
		rl.cancel()

		rl.manager.mutex.Lock()
		if rl.manager.localLocks[rl.key] == rl {
			delete(rl.manager.localLocks, rl.key)
		}
		rl.manager.mutex.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := rl.mutex.UnlockContext(ctx); err != nil {
			rl.manager.logger.Warn("Failed to unlock distributed lock",
				logging.Field{Key: "key", Value: rl.key},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
	})
}

// IsHeld reports whether the lock has not been released or lost
func (rl *RedsyncLock) IsHeld() bool {
	select {
	case <-rl.ctx.Done():
		return false
	default:
		return true
	}
}
