package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionLock is the distributed lock workers hold while driving a
// self-hosted session, keeping the at-most-one-connection-per-session
// invariant across worker instances. The TTL bounds how long a crashed
// holder can wedge a session.
type SessionLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionLock(rdb *redis.Client, ttl time.Duration) *SessionLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SessionLock{rdb: rdb, ttl: ttl}
}

func lockKey(sessionID string) string { return "zap:lock:session:" + sessionID }

// Acquire returns false when another worker holds the session. Callers
// must not wait; the job goes back to the broker for redelivery.
func (l *SessionLock) Acquire(ctx context.Context, sessionID string) (bool, error) {
	return l.rdb.SetNX(ctx, lockKey(sessionID), "1", l.ttl).Result()
}

func (l *SessionLock) Release(ctx context.Context, sessionID string) error {
	return l.rdb.Del(ctx, lockKey(sessionID)).Err()
}
