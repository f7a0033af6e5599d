package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	values    map[string]string
	ttls      map[string]int64
	setErr    error
	evalCalls int
}

func (client *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if client.setErr != nil {
		return redis.NewBoolResult(false, client.setErr)
	}
	if _, exists := client.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	client.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (client *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	client.evalCalls++
	if client.values[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	if script == extendScript {
		if client.ttls == nil {
			client.ttls = map[string]int64{}
		}
		client.ttls[keys[0]] = args[1].(int64)
		return redis.NewCmdResult(int64(1), nil)
	}
	delete(client.values, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

func TestRedisAcquireAndRelease(test *testing.T) {
	test.Parallel()
	client := &fakeRedis{values: map[string]string{}}
	lock, err := NewRedis(client)
	if err != nil {
		test.Fatalf("new redis lock: %v", err)
	}
	tokens := []string{"holder-1", "holder-2"}
	lock.tokenFn = func() string {
		token := tokens[0]
		tokens = tokens[1:]
		return token
	}

	lease, acquired, err := lock.Acquire(context.Background(), "rentals:reconcile", time.Minute)
	if err != nil || !acquired {
		test.Fatalf("expected first acquire to succeed, got %v %v", acquired, err)
	}
	if _, acquired, err := lock.Acquire(context.Background(), "rentals:reconcile", time.Minute); err != nil || acquired {
		test.Fatalf("expected second acquire to be refused, got %v %v", acquired, err)
	}
	if client.values["rentals:reconcile"] != "holder-1" {
		test.Fatalf("expected the first holder's token, got %q", client.values["rentals:reconcile"])
	}
	if err := lease.Extend(context.Background(), 90*time.Second); err != nil {
		test.Fatalf("extend: %v", err)
	}
	if client.ttls["rentals:reconcile"] != 90000 {
		test.Fatalf("expected the ttl in milliseconds, got %d", client.ttls["rentals:reconcile"])
	}
	if err := lease.Release(context.Background()); err != nil {
		test.Fatalf("release: %v", err)
	}
	if _, exists := client.values["rentals:reconcile"]; exists || client.evalCalls != 2 {
		test.Fatalf("expected the key to be deleted")
	}
	if err := lease.Extend(context.Background(), time.Minute); !errors.Is(err, ErrLockLost) {
		test.Fatalf("expected ErrLockLost after release, got %v", err)
	}
}

func TestRedisAcquireErrors(test *testing.T) {
	test.Parallel()
	client := &fakeRedis{values: map[string]string{}, setErr: errors.New("connection refused")}
	lock, err := NewRedis(client)
	if err != nil {
		test.Fatalf("new redis lock: %v", err)
	}
	if _, _, err := lock.Acquire(context.Background(), "key", time.Minute); err == nil {
		test.Fatalf("expected an error from redis")
	}
	if _, _, err := lock.Acquire(context.Background(), "key", 0); !errors.Is(err, ErrInvalidLock) {
		test.Fatalf("expected ErrInvalidLock for a zero ttl, got %v", err)
	}
	if _, err := NewRedis(nil); !errors.Is(err, ErrInvalidLock) {
		test.Fatalf("expected ErrInvalidLock for a nil client, got %v", err)
	}
}

func TestLocalLock(test *testing.T) {
	test.Parallel()
	lock := NewLocal()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	lock.nowFn = func() time.Time { return now }

	lease, acquired, err := lock.Acquire(context.Background(), "rentals:reconcile", time.Minute)
	if err != nil || !acquired {
		test.Fatalf("expected acquire, got %v %v", acquired, err)
	}
	if _, acquired, _ := lock.Acquire(context.Background(), "rentals:reconcile", time.Minute); acquired {
		test.Fatalf("expected the held lock to refuse")
	}
	if _, acquired, _ := lock.Acquire(context.Background(), "other", time.Minute); !acquired {
		test.Fatalf("expected an independent key to be free")
	}
	if err := lease.Release(context.Background()); err != nil {
		test.Fatalf("release: %v", err)
	}
	if _, acquired, _ := lock.Acquire(context.Background(), "rentals:reconcile", time.Minute); !acquired {
		test.Fatalf("expected the released lock to be free")
	}
}

func TestLocalLockExpiry(test *testing.T) {
	test.Parallel()
	lock := NewLocal()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	lock.nowFn = func() time.Time { return now }

	stale, acquired, _ := lock.Acquire(context.Background(), "key", time.Minute)
	if !acquired {
		test.Fatalf("expected acquire")
	}
	now = now.Add(2 * time.Minute)
	_, acquired, _ = lock.Acquire(context.Background(), "key", time.Minute)
	if !acquired {
		test.Fatalf("expected an expired lock to be taken over")
	}
	if err := stale.Extend(context.Background(), time.Minute); !errors.Is(err, ErrLockLost) {
		test.Fatalf("expected a stale extend to fail, got %v", err)
	}
	if err := stale.Release(context.Background()); err != nil {
		test.Fatalf("stale release: %v", err)
	}
	if _, acquired, _ := lock.Acquire(context.Background(), "key", time.Minute); acquired {
		test.Fatalf("a stale release must not free the new holder's lock")
	}
}

func TestLocalLeaseExtendKeepsLockHeld(test *testing.T) {
	test.Parallel()
	lock := NewLocal()
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	lock.nowFn = func() time.Time { return now }

	lease, acquired, _ := lock.Acquire(context.Background(), "key", time.Minute)
	if !acquired {
		test.Fatalf("expected acquire")
	}
	now = now.Add(50 * time.Second)
	if err := lease.Extend(context.Background(), time.Minute); err != nil {
		test.Fatalf("extend: %v", err)
	}
	now = now.Add(50 * time.Second)
	if _, acquired, _ := lock.Acquire(context.Background(), "key", time.Minute); acquired {
		test.Fatalf("an extended lease must keep the lock held")
	}
	now = now.Add(time.Minute)
	if err := lease.Extend(context.Background(), time.Minute); !errors.Is(err, ErrLockLost) {
		test.Fatalf("expected ErrLockLost for an expired lease, got %v", err)
	}
}
