package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease guards ProcessQueue across processes. Acquire reports false when
// another holder has it.
type Lease interface {
	Acquire(ctx context.Context) (release func(), held bool, err error)
}

type localLease struct{}

func (localLease) Acquire(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

// LocalLease only relies on the in-process mutex.
func LocalLease() Lease { return localLease{} }

// DefaultLeaseKey is the Redis key the queue lease lives under.
const DefaultLeaseKey = "claimflow:submission-queue:lease"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lease. The TTL must outlive a submission attempt
// so a live holder is never overtaken.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLease connects to url (redis://...) and checks the connection.
func NewRedisLease(ctx context.Context, url, key string, ttl time.Duration, logger *slog.Logger) (*RedisLease, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisLeaseWithClient(client, key, ttl, logger), nil
}

func NewRedisLeaseWithClient(client redis.UniversalClient, key string, ttl time.Duration, logger *slog.Logger) *RedisLease {
	if key == "" {
		key = DefaultLeaseKey
	}

	return &RedisLease{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger.With("module", "queue_lease", "key", key),
	}
}

func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()

	err := l.client.SetArgs(ctx, l.key, token, redis.SetArgs{Mode: "NX", TTL: l.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("acquire queue lease: %w", err)
	}

	release := func() {
		// Released under a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Error("failed to release queue lease", "error", err)
		}
	}

	return release, true, nil
}

func (l *RedisLease) Close() error {
	return l.client.Close()
}
