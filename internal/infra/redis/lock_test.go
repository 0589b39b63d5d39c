//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memClient is a tiny in-memory RedisClient for tests.
type memClient struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemClient() *memClient { return &memClient{data: map[string]string{}} }

func (m *memClient) Ping(ctx context.Context) error { return nil }
func (m *memClient) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}
func (m *memClient) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}
func (m *memClient) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", Nil
	}
	return v, nil
}
func (m *memClient) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
func (m *memClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}
func (m *memClient) Close() error { return nil }

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second TryLock fails while held", func(t *testing.T) {
		l := NewLocker(newMemClient())
		l.wait = time.Millisecond

		token, err := l.TryLock(ctx, "lock:expiry", time.Minute)
		if err != nil || token == "" {
			t.Fatalf("expected first lock to succeed, got %q %v", token, err)
		}
		if _, err := l.TryLock(ctx, "lock:expiry", time.Minute); !errors.Is(err, ErrLockHeld) {
			t.Fatalf("expected ErrLockHeld, got %v", err)
		}
	})

	t.Run("unlock with wrong token keeps the lock", func(t *testing.T) {
		cli := newMemClient()
		l := NewLocker(cli)
		l.wait = time.Millisecond

		token, _ := l.TryLock(ctx, "lock:x", time.Minute)
		if err := l.Unlock(ctx, "lock:x", "someone-else"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v, _ := cli.Get(ctx, "lock:x"); v != token {
			t.Fatal("lock was released by a foreign token")
		}
		if err := l.Unlock(ctx, "lock:x", token); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := l.TryLock(ctx, "lock:x", time.Minute); err != nil {
			t.Fatalf("expected lock to be free after unlock, got %v", err)
		}
	})
}
