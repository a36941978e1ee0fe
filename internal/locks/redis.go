package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "mixtape:lock:"
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only if it still holds our token, so an expired lock that
// someone else re-acquired is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares refresh locks between processes. Locks expire after ttl so a crashed holder
// cannot block a playlist forever.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisLocker uses an existing client.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *log.Logger) *RedisLocker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

// DialRedis connects to the configured Redis and checks it responds.
func DialRedis(ctx context.Context, cfg shared.LocksConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

func (r *RedisLocker) TryAcquire(ctx context.Context, key string) (Release, bool, error) {
	token := shared.GenerateID()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Err(); err != nil {
				r.logger.Warn("failed to release lock", "key", key, "err", err)
			}
		})
	}, true, nil
}
