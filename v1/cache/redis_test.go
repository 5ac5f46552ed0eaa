package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
	"github.com/mirkobrombin/go-cachelock/v1/store"
)

func newRedisCache[T any](t *testing.T, opts ...Option) (*Cache[T], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New[T](store.NewRedis(client), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheComplexStruct(t *testing.T) {
	type complex struct {
		Name string
		Age  int
		Tags []string
	}

	c, mr := newRedisCache[complex](t)
	ctx := context.Background()

	expected := complex{Name: "Alice", Age: 30, Tags: []string{"go", "redis"}}
	if err := c.Put(ctx, "user:1", expected); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists(`"user:1"`) {
		t.Fatal("expected encoded key in redis")
	}

	got, ok, err := c.Get(ctx, "user:1")
	if err != nil || !ok {
		t.Fatalf("expected value, ok %v err %v", ok, err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %+v, got %+v", expected, got)
	}
	if ttl := mr.TTL(`"user:1"`); ttl != 0 {
		t.Fatalf("entries must not expire, ttl %v", ttl)
	}
}

func TestRedisCacheStoreFailure(t *testing.T) {
	c, mr := newRedisCache[string](t)
	ctx := context.Background()
	_ = c.Put(ctx, "k", "v")

	mr.SetError("ERR simulated failure")
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, cerrors.ErrCacheOperation) {
		t.Fatalf("expected ErrCacheOperation from Get, got %v", err)
	}
	if err := c.Put(ctx, "k", "v2"); !errors.Is(err, cerrors.ErrCacheOperation) {
		t.Fatalf("expected ErrCacheOperation from Put, got %v", err)
	}
	if err := c.Remove(ctx, "k"); !errors.Is(err, cerrors.ErrCacheOperation) {
		t.Fatalf("expected ErrCacheOperation from Remove, got %v", err)
	}
	if c.Exists(ctx, "k") {
		t.Fatal("Exists must report false when the store fails")
	}

	mr.SetError("")
	if !c.Exists(ctx, "k") {
		t.Fatal("Exists should recover with the store")
	}
}

func TestResilientSuppressesErrors(t *testing.T) {
	c, mr := newRedisCache[string](t)
	r := NewResilient(c)
	ctx := context.Background()

	if err := r.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.SetError("ERR simulated failure")

	if v, ok, err := r.Get(ctx, "k"); err != nil || ok || v != "" {
		t.Fatalf("expected silent miss, got %q %v %v", v, ok, err)
	}
	if err := r.Put(ctx, "k", "v2"); err != nil {
		t.Fatalf("expected suppressed Put error, got %v", err)
	}
	if err := r.Remove(ctx, "k"); err != nil {
		t.Fatalf("expected suppressed Remove error, got %v", err)
	}
	if _, err := r.Lock(ctx, "k", time.Second); !errors.Is(err, cerrors.ErrStore) {
		t.Fatalf("lock errors must not be suppressed, got %v", err)
	}
}

func TestRedisCacheLock(t *testing.T) {
	c, mr := newRedisCache[string](t, WithRegion("jobs"))
	ctx := context.Background()

	if ok, err := c.Lock(ctx, "job1", 500*time.Millisecond); err != nil || !ok {
		t.Fatalf("Lock: ok %v err %v", ok, err)
	}
	if !mr.Exists("job1.lock") {
		t.Fatal("lock key missing")
	}
	if err := c.Unlock(ctx, "job1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if mr.Exists("job1.lock") {
		t.Fatal("lock key not removed")
	}
}

func TestCacheTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	c, _ := newRedisCache[string](t, WithTracing())
	ctx := context.Background()
	_ = c.Put(ctx, "k", "v")
	_, _, _ = c.Get(ctx, "k")
	_, _ = c.Lock(ctx, "k", time.Second)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	want := []string{"Cache.Put", "Cache.Get", "Lock.Acquire"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expected spans %v, got %v", want, names)
	}
}
