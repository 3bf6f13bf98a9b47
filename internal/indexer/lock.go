package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// leaderLock serializes writes to the VectorIndex's sidecar file across
// multiple indexer processes via a Redis `SET NX` mutex with a TTL. A file lock
// would not reach across processes on different hosts, so Redis is the
// natural choice given the rest of the stack.
type leaderLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func newLeaderLock(rdb *redis.Client, key string, ttl time.Duration) *leaderLock {
	return &leaderLock{rdb: rdb, key: key, ttl: ttl}
}

// Acquire blocks (with backoff) until it holds the lock or ctx is
// cancelled, returning a release function.
func (l *leaderLock) Acquire(ctx context.Context) (release func(), err error) {
	token := uuid.NewString()
	backoff := 50 * time.Millisecond

	for {
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire index lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			if backoff < time.Second {
				backoff *= 2
			}
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l.rdb.Eval(releaseCtx, releaseScript, []string{l.key}, token)
	}, nil
}
