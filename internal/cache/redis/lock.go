package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// unlockLua deletes the key only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the key only while it still holds the caller's token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// scripts.
type LockManager struct {
	c       *Client
	unlock  *redis.Script
	refresh *redis.Script
}

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:       c,
		unlock:  redis.NewScript(unlockLua),
		refresh: redis.NewScript(refreshLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key or fails with domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	l := &lease{lm: lm, key: lm.c.key("lock", key), token: uuid.NewString(), ttl: ttl}
	ok, err := lm.c.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return l, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

func (l *lease) Refresh(ctx context.Context) error {
	n, err := l.lm.refresh.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release deletes the lock. It runs on a fresh context so it works after the
// caller's context is cancelled, and only once.
func (l *lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlock.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}
