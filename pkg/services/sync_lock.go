package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-calls/pkg/apperrors"
)

const syncLockPrefix = "ekaya-calls:sync-lock:"

// Lock keys.
const (
	schedulerLockKey = "scheduler"
	backfillLockKey  = "backfill"
)

func ownerLockKey(ownerID uuid.UUID) string {
	return "owner:" + ownerID.String()
}

// SyncLock serialises sync runs for the same key across requests and instances.
type SyncLock interface {
	// Acquire returns apperrors.ErrSyncInProgress when the key is held.
	// The returned release function is safe to call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NewSyncLock returns a Redis-backed lock, or an in-process lock when client is nil.
func NewSyncLock(client *redis.Client, ttl time.Duration, logger *zap.Logger) SyncLock {
	logger = logger.Named("sync-lock")
	if client == nil {
		logger.Info("Redis not configured, using in-process sync lock")
		return newMemoryLock()
	}
	return &redisLock{client: client, ttl: ttl, logger: logger}
}

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func (l *redisLock) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}

	fullKey := syncLockPrefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, apperrors.ErrSyncInProgress)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled when the run ends.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil {
				l.logger.Warn("Failed to release sync lock, it will expire",
					zap.String("key", key),
					zap.Duration("ttl", l.ttl),
					zap.Error(err))
			}
		})
	}, nil
}

func lockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type memoryLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newMemoryLock() *memoryLock {
	return &memoryLock{held: make(map[string]struct{})}
}

func (l *memoryLock) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, apperrors.ErrSyncInProgress)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
