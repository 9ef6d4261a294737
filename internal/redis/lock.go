package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cmsauto/autologin-server-go/internal/util"
)

var ErrLockHeld = errors.New("lock held by another holder")

// releaseScript deletes the key only while it still carries the holder's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a best-effort mutual exclusion over a Redis key with a TTL.
type RunLock struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRunLock(client redis.Cmdable, ttl time.Duration) *RunLock {
	return &RunLock{client: client, ttl: ttl}
}

// Acquire takes key and returns a release function. ErrLockHeld is returned
// when another holder owns it.
func (l *RunLock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token, err := util.GenerateToken()
	if err != nil {
		return nil, err
	}

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}
