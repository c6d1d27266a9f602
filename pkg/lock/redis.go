package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the lease only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lease only if it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig configures a Redis lease locker.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the Redis password, if any.
	Password string

	// DB is the Redis database number.
	DB int

	// Prefix is prepended to every lock key.
	Prefix string

	// TTL is the lease duration. Held leases are refreshed at a third of it.
	TTL time.Duration

	// RetryInterval is how long to wait between acquisition attempts.
	RetryInterval time.Duration
}

// Validate checks the configuration.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("lease TTL must be positive")
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive")
	}
	return nil
}

// LeaseClient is the subset of the Redis client used for leases.
type LeaseClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Redis holds per-target leases in Redis using SET NX PX. Leases are
// refreshed while held and released with a compare-and-delete script.
type Redis struct {
	client LeaseClient
	cfg    RedisConfig
	logger zerolog.Logger
}

// NewRedis connects to Redis and returns a locker.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis lock config: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient builds a locker over an existing client.
func NewRedisWithClient(client LeaseClient, cfg RedisConfig, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis-lock").Logger(),
	}
}

// Close closes the client if the locker owns one that can be closed.
func (r *Redis) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Lock blocks until the lease for key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	name := r.cfg.Prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, name, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease %s: %w", name, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Debug().Str("key", name).Msg("Lease acquired")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.refresh(name, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.logger.Warn().Err(err).Str("key", name).Msg("Failed to release lease")
				return
			}
			r.logger.Debug().Str("key", name).Msg("Lease released")
		})
	}, nil
}

func (r *Redis) refresh(name, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TTL/3)
			n, err := refreshScript.Run(ctx, r.client, []string{name}, token, r.cfg.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn().Err(err).Str("key", name).Msg("Failed to refresh lease")
				continue
			}
			if n == 0 {
				r.logger.Error().Str("key", name).Msg("Lease lost before release")
				return
			}
		}
	}
}
