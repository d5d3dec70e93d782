package store

import (
	"context"
	stdErrors "errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	warderrors "github.com/mirkobrombin/go-ward/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
    return 0
end
`)

var deleteScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// Redis implements Store on a Redis server. Creation uses SET NX PX, extension
// and deletion run as Lua scripts so the token comparison and the mutation are
// evaluated in one step on the server.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix  string
	timeout time.Duration
}

// WithTimeout sets the per-call timeout for Redis operations.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.timeout = d
	}
}

// WithKeyPrefix prepends prefix to every key written to Redis.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// NewRedis returns a Redis store using the provided client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	o := redisOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &Redis{client: client, prefix: o.prefix, timeout: o.timeout}
}

// TryCreate implements Store.TryCreate.
func (s *Redis) TryCreate(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.client.SetNX(cctx, s.prefix+key, token, ttl).Result()
	if err != nil {
		return false, mapRedisErr(err)
	}
	return ok, nil
}

// TryExtend implements Store.TryExtend.
func (s *Redis) TryExtend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return s.run(ctx, extendScript, key, token, strconv.FormatInt(ms, 10))
}

// TryDelete implements Store.TryDelete.
func (s *Redis) TryDelete(ctx context.Context, key, token string) (bool, error) {
	return s.run(ctx, deleteScript, key, token)
}

func (s *Redis) run(ctx context.Context, script *redis.Script, key string, args ...any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, mapRedisErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := script.Run(cctx, s.client, []string{s.prefix + key}, args...).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, mapRedisErr(err)
	}
	return n == 1, nil
}

func mapRedisErr(err error) error {
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return warderrors.ErrTimeout
	case stdErrors.Is(err, redis.ErrClosed):
		return warderrors.ErrConnectionClosed
	}
	return err
}
