package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/srgjo27/batch_invite/internal/core/domain"
)

const (
	keyPrefix   = "lock:"
	callTimeout = 2 * time.Second
)

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another holder is left alone.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// extendScript pushes the expiry out only while the key still carries our token.
const extendScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// RedisLocker holds a key for as long as its holder runs: the TTL only bounds
// how long a crashed holder blocks others. A live holder renews the key every
// third of the TTL until it releases.
type RedisLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	clock  clockwork.Clock
	token  func() string

	onRenew func(held bool)
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		clock:  clockwork.NewRealClock(),
		token:  func() string { return uuid.NewString() },
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := l.token()

	acquired, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, domain.ErrConcurrencyConflict
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	if l.ttl > 0 {
		go l.keepAlive(redisKey, token, stop, done)
	} else {
		close(done)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()

			if err := l.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				log.Error().Err(err).Str("key", redisKey).Msg("failed to release lock, it will expire on its own")
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := l.clock.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		held, err := l.extend(key, token)
		if l.onRenew != nil {
			l.onRenew(held)
		}
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", key).Msg("lock renewal failed, retrying on next tick")
		case !held:
			log.Error().Str("key", key).Msg("lock lost before release")
			return
		}
	}
}

// extend reports whether the key was still ours and got a fresh TTL.
func (l *RedisLocker) extend(key, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	n, err := l.client.Eval(ctx, extendScript, []string{key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", key, err)
	}
	return n == 1, nil
}
