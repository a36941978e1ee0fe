package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/desertthunder/mixtape/internal/shared"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func exerciseLocker(t *testing.T, l Locker) {
	ctx := context.Background()

	t.Run("Second acquire fails without waiting", func(t *testing.T) {
		release, ok, err := l.TryAcquire(ctx, "pl-1")
		if err != nil || !ok {
			t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
		}

		start := time.Now()
		_, ok, err = l.TryAcquire(ctx, "pl-1")
		if err != nil || ok {
			t.Fatalf("expected second acquire to fail, got ok=%v err=%v", ok, err)
		}
		if time.Since(start) > time.Second {
			t.Error("TryAcquire blocked")
		}

		release()
		release()

		again, ok, err := l.TryAcquire(ctx, "pl-1")
		if err != nil || !ok {
			t.Fatalf("expected acquire after release to succeed, got ok=%v err=%v", ok, err)
		}
		again()
	})

	t.Run("Keys are independent", func(t *testing.T) {
		a, okA, _ := l.TryAcquire(ctx, "pl-a")
		b, okB, _ := l.TryAcquire(ctx, "pl-b")
		if !okA || !okB {
			t.Fatal("different keys should not contend")
		}
		a()
		b()
	})

	t.Run("Exactly one concurrent winner", func(t *testing.T) {
		var winners atomic.Int32
		var wg sync.WaitGroup
		releases := make(chan Release, 16)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, ok, err := l.TryAcquire(ctx, "pl-race")
				if err != nil {
					t.Errorf("TryAcquire failed: %v", err)
					return
				}
				if ok {
					winners.Add(1)
					releases <- release
				}
			}()
		}
		wg.Wait()
		close(releases)
		for r := range releases {
			r()
		}
		if winners.Load() != 1 {
			t.Errorf("expected exactly one winner, got %d", winners.Load())
		}
	})

	t.Run("Release works after the caller's context is cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		release, ok, _ := l.TryAcquire(cctx, "pl-cancel")
		if !ok {
			t.Fatal("expected acquire to succeed")
		}
		cancel()
		release()

		r, ok, _ := l.TryAcquire(ctx, "pl-cancel")
		if !ok {
			t.Fatal("lock was not released")
		}
		r()
	})
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	exerciseLocker(t, l)

	release, _, _ := l.TryAcquire(context.Background(), "held")
	if !l.Held("held") {
		t.Error("expected key to be held")
	}
	release()
	if l.Held("held") {
		t.Error("expected key to be free")
	}
}

func TestRedisLocker(t *testing.T) {
	client, mr := setupTestRedis(t)
	l := NewRedisLocker(client, time.Minute, nil)
	exerciseLocker(t, l)

	t.Run("Locks expire after the ttl", func(t *testing.T) {
		_, ok, _ := l.TryAcquire(context.Background(), "pl-ttl")
		if !ok {
			t.Fatal("expected acquire to succeed")
		}
		mr.FastForward(2 * time.Minute)

		release, ok, _ := l.TryAcquire(context.Background(), "pl-ttl")
		if !ok {
			t.Fatal("expected expired lock to be acquirable")
		}
		release()
	})

	t.Run("A stale holder does not release someone else's lock", func(t *testing.T) {
		stale, ok, _ := l.TryAcquire(context.Background(), "pl-stale")
		if !ok {
			t.Fatal("expected acquire to succeed")
		}
		mr.FastForward(2 * time.Minute)

		current, ok, _ := l.TryAcquire(context.Background(), "pl-stale")
		if !ok {
			t.Fatal("expected re-acquire to succeed")
		}
		stale()

		if _, ok, _ := l.TryAcquire(context.Background(), "pl-stale"); ok {
			t.Error("stale release freed the current holder's lock")
		}
		current()
	})

	t.Run("DialRedis", func(t *testing.T) {
		c, err := DialRedis(context.Background(), shared.LocksConfig{RedisAddr: mr.Addr()})
		if err != nil {
			t.Fatalf("DialRedis failed: %v", err)
		}
		c.Close()
	})
}
