package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "egov:session:"
	redisMaxRetries = 5
)

// ErrContended is returned when an optimistic Redis transaction keeps
// losing to concurrent writers.
var ErrContended = errors.New("credentials update contended")

// RedisBackend stores each namespace as a Redis hash so several egov
// processes (or hosts) can share one session. Updates use WATCH/MULTI.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// DialRedis parses a redis:// URL and returns a backend using it.
func DialRedis(rawURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisBackend(redis.NewClient(opts)), nil
}

func (b *RedisBackend) Name() string { return "redis" }

func redisKey(namespace string) string {
	return redisKeyPrefix + namespace
}

func (b *RedisBackend) Load(ctx context.Context, namespace string) (map[string]string, error) {
	values, err := b.client.HGetAll(ctx, redisKey(namespace)).Result()
	if err != nil {
		return nil, err
	}
	return cloneValues(values), nil
}

func (b *RedisBackend) Update(ctx context.Context, namespace string, fn func(map[string]string) error) error {
	key := redisKey(namespace)

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGetAll(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		values := cloneValues(current)
		if err := fn(values); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(values) > 0 {
				pairs := make([]string, 0, 2*len(values))
				for k, v := range values {
					pairs = append(pairs, k, v)
				}
				pipe.HSet(ctx, key, pairs)
			}
			return nil
		})
		return err
	}

	for range redisMaxRetries {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContended
}

// Close releases the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
