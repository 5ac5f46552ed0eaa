package lock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-cachelock/v1/store"
)

func newRedisStore(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedis(client)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisLeaseExpiryAndSteal(t *testing.T) {
	st, mr := newRedisStore(t)
	a := New(st)
	b := New(st)
	ctx := context.Background()

	if ok, err := a.Acquire(ctx, "job1", 500*time.Millisecond, 0); err != nil || !ok {
		t.Fatalf("A acquire: ok %v err %v", ok, err)
	}
	if !mr.Exists("job1.lock") {
		t.Fatal("lock key not written to redis")
	}
	if ok, err := b.Acquire(ctx, "job1", 500*time.Millisecond, 0); err != nil || ok {
		t.Fatalf("B acquire while held: ok %v err %v", ok, err)
	}

	time.Sleep(600 * time.Millisecond)
	if ok, err := b.Acquire(ctx, "job1", 500*time.Millisecond, 0); err != nil || !ok {
		t.Fatalf("B steal: ok %v err %v", ok, err)
	}
	if err := b.Release(ctx, "job1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists("job1.lock") {
		t.Fatal("lock key still present after release")
	}
}

func TestRedisHolderTokenRelease(t *testing.T) {
	st, mr := newRedisStore(t)
	c := New(st, WithHolderToken())
	ctx := context.Background()

	if ok, _ := c.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	// simulate a takeover by another holder
	mr.Set("k.lock", "99999999999999:other")
	_ = c.Release(ctx, "k")
	if got, _ := mr.Get("k.lock"); got != "99999999999999:other" {
		t.Fatalf("release removed a lock it did not own, value %q", got)
	}
}

func TestRedisReleaseSurvivesStoreFailure(t *testing.T) {
	st, mr := newRedisStore(t)
	c := New(st)
	ctx := context.Background()

	if ok, _ := c.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatal("acquire failed")
	}
	mr.SetError("ERR simulated failure")
	if err := c.Release(ctx, "k"); err != nil {
		t.Fatalf("release must swallow store errors, got %v", err)
	}
	if c.Held("k") {
		t.Fatal("lock still marked held after release")
	}
}

func runMutualExclusion(t *testing.T, st store.Store) {
	t.Helper()
	var (
		inside  atomic.Int32
		entered atomic.Int32
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 8; i++ {
		c := New(st, WithPollInterval(time.Millisecond))
		g.Go(func() error {
			for n := 0; n < 5; n++ {
				ok, err := c.Acquire(ctx, "shared", time.Minute, 5*time.Second)
				if err != nil {
					return err
				}
				if !ok {
					t.Error("acquire timed out")
					return nil
				}
				if inside.Add(1) != 1 {
					t.Error("two holders inside the critical section")
				}
				entered.Add(1)
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				if err := c.Release(ctx, "shared"); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if entered.Load() != 40 {
		t.Fatalf("expected 40 entries, got %d", entered.Load())
	}
}

func TestMutualExclusionMemory(t *testing.T) {
	runMutualExclusion(t, store.NewMemory())
}

func TestMutualExclusionRedis(t *testing.T) {
	st, _ := newRedisStore(t)
	runMutualExclusion(t, st)
}

func TestAcquireTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	st, _ := newRedisStore(t)
	c := New(st, WithTracing())
	ctx := context.Background()
	if ok, _ := c.TryAcquire(ctx, "traced", time.Second); !ok {
		t.Fatal("acquire failed")
	}
	_ = c.Release(ctx, "traced")

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "Lock.Acquire" || spans[1].Name() != "Lock.Release" {
		t.Fatalf("unexpected span names %q, %q", spans[0].Name(), spans[1].Name())
	}
	var result string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "cachelock.result" {
			result = kv.Value.AsString()
		}
	}
	if result != "fast" {
		t.Fatalf("expected result attribute fast, got %q", result)
	}
}
