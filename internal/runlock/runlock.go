// Package runlock provides booking.RunLock implementations: a Redis lock shared
// by every instance and an in-process lock for single-instance deployments.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

	extendScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`
)

var (
	ErrInvalidLock = errors.New("invalid run lock")
	ErrLockLost    = errors.New("run lock lost")
)

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis holds the lock as a SET NX key with a TTL. Extend and release touch the
// key only while it still carries the holder's token, so an expired holder
// never frees or prolongs a lock that someone else has taken since.
type Redis struct {
	client  redisClient
	tokenFn func() string
}

// NewRedis wraps a go-redis client.
func NewRedis(client redisClient) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidLock)
	}
	return &Redis{client: client, tokenFn: uuid.NewString}, nil
}

// NewRedisFromURL parses a redis:// url and pings the server.
func NewRedisFromURL(ctx context.Context, rawURL string) (*Redis, *redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: redis url: %v", ErrInvalidLock, err)
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	lock, err := NewRedis(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return lock, client, nil
}

// Acquire implements booking.RunLock.
func (lock *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (booking.Lease, bool, error) {
	if strings.TrimSpace(key) == "" || ttl <= 0 {
		return nil, false, fmt.Errorf("%w: key and positive ttl are required", ErrInvalidLock)
	}
	token := lock.tokenFn()
	acquired, err := lock.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis acquire %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}
	return &redisLease{client: lock.client, key: key, token: token}, true, nil
}

type redisLease struct {
	client redisClient
	key    string
	token  string
}

func (lease *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: positive ttl is required", ErrInvalidLock)
	}
	extended, err := lease.client.Eval(ctx, extendScript, []string{lease.key}, lease.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis extend %s: %w", lease.key, err)
	}
	if extended == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, lease.key)
	}
	return nil
}

func (lease *redisLease) Release(ctx context.Context) error {
	if err := lease.client.Eval(ctx, releaseScript, []string{lease.key}, lease.token).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", lease.key, err)
	}
	return nil
}

// Local is an in-process lock keyed by name. Entries expire after their TTL
// like the Redis keys do.
type Local struct {
	mu     sync.Mutex
	held   map[string]localHold
	nowFn  func() time.Time
	serial uint64
}

type localHold struct {
	serial    uint64
	expiresAt time.Time
}

// NewLocal returns an empty Local lock.
func NewLocal() *Local {
	return &Local{held: make(map[string]localHold), nowFn: time.Now}
}

// Acquire implements booking.RunLock.
func (lock *Local) Acquire(_ context.Context, key string, ttl time.Duration) (booking.Lease, bool, error) {
	if strings.TrimSpace(key) == "" || ttl <= 0 {
		return nil, false, fmt.Errorf("%w: key and positive ttl are required", ErrInvalidLock)
	}
	lock.mu.Lock()
	defer lock.mu.Unlock()
	now := lock.nowFn()
	if hold, exists := lock.held[key]; exists && now.Before(hold.expiresAt) {
		return nil, false, nil
	}
	lock.serial++
	lock.held[key] = localHold{serial: lock.serial, expiresAt: now.Add(ttl)}
	return &localLease{lock: lock, key: key, serial: lock.serial}, true, nil
}

type localLease struct {
	lock   *Local
	key    string
	serial uint64
}

func (lease *localLease) Extend(_ context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: positive ttl is required", ErrInvalidLock)
	}
	lease.lock.mu.Lock()
	defer lease.lock.mu.Unlock()
	now := lease.lock.nowFn()
	hold, exists := lease.lock.held[lease.key]
	if !exists || hold.serial != lease.serial || !now.Before(hold.expiresAt) {
		return fmt.Errorf("%w: %s", ErrLockLost, lease.key)
	}
	hold.expiresAt = now.Add(ttl)
	lease.lock.held[lease.key] = hold
	return nil
}

func (lease *localLease) Release(context.Context) error {
	lease.lock.mu.Lock()
	defer lease.lock.mu.Unlock()
	if hold, exists := lease.lock.held[lease.key]; exists && hold.serial == lease.serial {
		delete(lease.lock.held, lease.key)
	}
	return nil
}
