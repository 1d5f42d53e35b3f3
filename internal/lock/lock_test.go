package lock

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chunkstore/internal/store"
)

func testSQLiteLocker(t *testing.T) *SQLite {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "locks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLite(st)
}

func lockers(t *testing.T) map[string]Locker {
	return map[string]Locker{
		"memory": NewMemory(),
		"sqlite": testSQLiteLocker(t),
	}
}

func TestTryAcquireExclusive(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, ok, err := locker.TryAcquire(ctx, UploadKey("abc"), time.Minute)
			if err != nil || !ok {
				t.Fatalf("first acquire: ok=%v err=%v", ok, err)
			}
			if first.Key() != "blob-upload:abc" {
				t.Fatalf("unexpected key %q", first.Key())
			}

			if _, ok, err := locker.TryAcquire(ctx, UploadKey("abc"), time.Minute); err != nil || ok {
				t.Fatalf("expected contended acquire to fail: ok=%v err=%v", ok, err)
			}
			if _, ok, err := locker.TryAcquire(ctx, UploadKey("def"), time.Minute); err != nil || !ok {
				t.Fatalf("expected other key to be free: ok=%v err=%v", ok, err)
			}

			if err := first.Release(ctx); err != nil {
				t.Fatalf("release: %v", err)
			}
			if _, ok, err := locker.TryAcquire(ctx, UploadKey("abc"), time.Minute); err != nil || !ok {
				t.Fatalf("expected acquire after release: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestAcquireTimesOut(t *testing.T) {
	for name, locker := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := locker.TryAcquire(ctx, "k", time.Minute); err != nil || !ok {
				t.Fatalf("setup acquire: ok=%v err=%v", ok, err)
			}

			started := time.Now()
			_, err := Acquire(ctx, locker, "k", time.Minute, 50*time.Millisecond)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("expected ErrTimeout, got %v", err)
			}
			if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
				t.Fatalf("expected to wait for the timeout, returned after %s", elapsed)
			}
		})
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	locker := NewMemory()
	ctx := context.Background()
	held, ok, err := locker.TryAcquire(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setup acquire: ok=%v err=%v", ok, err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	got, err := Acquire(ctx, locker, "k", time.Minute, 5*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = got.Release(ctx)
}

func TestAcquireHonorsContext(t *testing.T) {
	locker := NewMemory()
	if _, ok, _ := locker.TryAcquire(context.Background(), "k", time.Minute); !ok {
		t.Fatal("setup acquire failed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, locker, "k", time.Minute, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryLeaseExpiry(t *testing.T) {
	locker := NewMemory()
	now := time.Now()
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	stale, ok, err := locker.TryAcquire(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if !locker.Held("k") {
		t.Fatal("expected key to be held")
	}

	now = now.Add(2 * time.Second)
	if locker.Held("k") {
		t.Fatal("expected lease to have expired")
	}
	fresh, ok, err := locker.TryAcquire(ctx, "k", time.Second)
	if err != nil || !ok {
		t.Fatalf("takeover after expiry: ok=%v err=%v", ok, err)
	}

	// The stale holder must not release the new lease.
	_ = stale.Release(ctx)
	if !locker.Held("k") {
		t.Fatal("stale release dropped the new lease")
	}
	_ = fresh.Release(ctx)
	if locker.Held("k") {
		t.Fatal("expected key released")
	}
}

func TestMemoryMutualExclusion(t *testing.T) {
	locker := NewMemory()
	ctx := context.Background()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held, err := Acquire(ctx, locker, "shared", time.Minute, 10*time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = held.Release(ctx)
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
}

func TestAcquireWhileRunsIdleBetweenAttempts(t *testing.T) {
	locker := NewMemory()
	ctx := context.Background()
	other, ok, err := locker.TryAcquire(ctx, "busy", time.Minute)
	if err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	// The idle hook frees the contended key on its second call.
	var calls int
	idle := func() error {
		calls++
		if calls == 2 {
			return other.Release(ctx)
		}
		return nil
	}
	held, err := AcquireWhile(ctx, locker, "busy", time.Minute, 5*time.Second, idle)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release(ctx)
	if calls != 2 {
		t.Fatalf("expected idle to run twice, ran %d times", calls)
	}
}

func TestAcquireWhileStopsOnIdleError(t *testing.T) {
	locker := NewMemory()
	ctx := context.Background()
	if _, ok, err := locker.TryAcquire(ctx, "busy", time.Minute); err != nil || !ok {
		t.Fatalf("seed acquire: ok=%v err=%v", ok, err)
	}

	boom := errors.New("flush failed")
	_, err := AcquireWhile(ctx, locker, "busy", time.Minute, 5*time.Second, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected idle error, got %v", err)
	}
}
