package holdstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// release deletes the key only when it still carries the caller's value, so a
// slow client can never drop a hold that has since expired and been re-acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisStore implements Store on a redis client. Redis evicts keys at their
// TTL on its own, which covers the crash-before-release case.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisOption func(*RedisStore)

// WithPrefix overrides the key prefix (default "hold").
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func NewRedis(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "hold",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	ok, err := s.rdb.SetNX(ctx, s.prefix+":"+key, owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire hold: %w", err)
	}
	if !ok {
		return ErrAlreadyHeld
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, owner string) error {
	deleted, err := releaseScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key}, owner).Int()
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *RedisStore) Extend(ctx context.Context, key, owner string, ttl time.Duration) error {
	extended, err := extendScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend hold: %w", err)
	}
	if extended == 0 {
		return ErrNotHeld
	}
	return nil
}

func (s *RedisStore) Owner(ctx context.Context, key string) (string, error) {
	owner, err := s.rdb.Get(ctx, s.prefix+":"+key).Result()
	if err == redis.Nil {
		return "", ErrNotHeld
	}
	if err != nil {
		return "", fmt.Errorf("get hold: %w", err)
	}
	return owner, nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan holds: %w", err)
	}
	return keys, nil
}
