package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mirkobrombin/go-cachelock/v1/codec"
	cerrors "github.com/mirkobrombin/go-cachelock/v1/errors"
	"github.com/mirkobrombin/go-cachelock/v1/lock"
	"github.com/mirkobrombin/go-cachelock/v1/metrics"
	"github.com/mirkobrombin/go-cachelock/v1/store"
)

type user struct {
	Name    string    `json:"name"`
	Age     int       `json:"age"`
	Created time.Time `json:"created"`
}

func TestPutGetRoundTrip(t *testing.T) {
	st := store.NewMemory()
	c := New[user](st, WithRegion("users"))
	ctx := context.Background()

	in := user{Name: "Alice", Age: 30, Created: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if err := c.Put(ctx, "user:1", in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(ctx, "user:1")
	if err != nil || !ok {
		t.Fatalf("Get: ok %v err %v", ok, err)
	}
	if got.Name != in.Name || got.Age != in.Age || !got.Created.Equal(in.Created) {
		t.Fatalf("expected %+v, got %+v", in, got)
	}

	raw, found, _ := st.Get(ctx, `"user:1"`)
	if !found {
		t.Fatal("data key should be the JSON encoded key")
	}
	want := `{"age":30,"created":"2024-05-01T12:00:00.000Z","name":"Alice"}`
	if string(raw) != want {
		t.Fatalf("expected stored value %s, got %s", want, raw)
	}
}

func TestPutOverwrites(t *testing.T) {
	c := New[string](store.NewMemory())
	ctx := context.Background()
	_ = c.Put(ctx, "k", "first")
	_ = c.Put(ctx, "k", "second")
	if got, _, _ := c.Get(ctx, "k"); got != "second" {
		t.Fatalf("expected last write to win, got %q", got)
	}
}

func TestGetMiss(t *testing.T) {
	st := store.NewMemory()
	c := New[string](st)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "absent"); err != nil || ok {
		t.Fatalf("expected miss, ok %v err %v", ok, err)
	}
	_ = st.Set(ctx, `"empty"`, []byte{})
	if _, ok, err := c.Get(ctx, "empty"); err != nil || ok {
		t.Fatalf("empty entry should be a miss, ok %v err %v", ok, err)
	}
}

func TestGetDecodeError(t *testing.T) {
	st := store.NewMemory()
	c := New[user](st)
	ctx := context.Background()
	_ = st.Set(ctx, `"bad"`, []byte("{not json"))

	_, ok, err := c.Get(ctx, "bad")
	if ok {
		t.Fatal("undecodable entry must not be a hit")
	}
	if !errors.Is(err, cerrors.ErrCacheOperation) || !errors.Is(err, cerrors.ErrSerialization) {
		t.Fatalf("expected cache operation and serialization error, got %v", err)
	}
}

func TestPutEncodeError(t *testing.T) {
	c := New[any](store.NewMemory())
	err := c.Put(context.Background(), "fn", func() {})
	if !errors.Is(err, cerrors.ErrCacheOperation) || !errors.Is(err, cerrors.ErrSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestRemoveAndExists(t *testing.T) {
	c := New[int](store.NewMemory())
	ctx := context.Background()

	if c.Exists(ctx, "n") {
		t.Fatal("absent key reported as existing")
	}
	_ = c.Put(ctx, "n", 5)
	if !c.Exists(ctx, "n") {
		t.Fatal("stored key reported as absent")
	}
	if err := c.Remove(ctx, "n"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Exists(ctx, "n") {
		t.Fatal("removed key still exists")
	}
	if err := c.Remove(ctx, "n"); err != nil {
		t.Fatalf("removing a missing key: %v", err)
	}
}

func TestBytesCodecKeys(t *testing.T) {
	st := store.NewMemory()
	c := New[[]byte](st, WithCodec(codec.Bytes{}))
	ctx := context.Background()

	if err := c.Put(ctx, "blob", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, _ := st.Exists(ctx, "blob"); !ok {
		t.Fatal("bytes codec should store the raw key")
	}
	got, ok, err := c.Get(ctx, "blob")
	if err != nil || !ok || len(got) != 3 {
		t.Fatalf("Get: %v %v %v", got, ok, err)
	}
}

func TestEmptyEntryDoesNotExist(t *testing.T) {
	c := New[[]byte](store.NewMemory(), WithCodec(codec.Bytes{}))
	ctx := context.Background()

	if err := c.Put(ctx, "k", []byte{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if c.Exists(ctx, "k") {
		t.Fatal("empty entry reported as existing")
	}
	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("empty entry should be a miss, ok %v err %v", ok, err)
	}
}

func TestTimestampTextRoundTrip(t *testing.T) {
	type note struct {
		Text string `json:"text"`
	}
	c := New[note](store.NewMemory())
	ctx := context.Background()

	in := note{Text: "2024-01-02T03:04:05.123456789+02:00"}
	if err := c.Put(ctx, "n", in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(ctx, "n")
	if err != nil || !ok {
		t.Fatalf("Get: ok %v err %v", ok, err)
	}
	if got != in {
		t.Fatalf("expected %q, got %q", in.Text, got.Text)
	}
}

func TestTimestampKeysStayDistinct(t *testing.T) {
	c := New[string](store.NewMemory())
	ctx := context.Background()

	_ = c.Put(ctx, "2024-01-02T03:04:05Z", "short")
	_ = c.Put(ctx, "2024-01-02T03:04:05.000Z", "millis")
	if got, _, _ := c.Get(ctx, "2024-01-02T03:04:05Z"); got != "short" {
		t.Fatalf("keys collided, got %q", got)
	}
	if got, _, _ := c.Get(ctx, "2024-01-02T03:04:05.000Z"); got != "millis" {
		t.Fatalf("keys collided, got %q", got)
	}
}

func newTestCoordinator(st store.Store, clock clockwork.FakeClock) *lock.Coordinator {
	return lock.New(st, lock.WithClock(clock), lock.WithSleep(func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}))
}

func TestLockUnlock(t *testing.T) {
	st := store.NewMemory()
	clock := clockwork.NewFakeClock()
	a := New[string](st, WithCoordinator(newTestCoordinator(st, clock)))
	b := New[string](st, WithCoordinator(newTestCoordinator(st, clock)))
	ctx := context.Background()

	if ok, err := a.Lock(ctx, "job1", time.Second); err != nil || !ok {
		t.Fatalf("a.Lock: ok %v err %v", ok, err)
	}
	if ok, _ := st.Exists(ctx, "job1.lock"); !ok {
		t.Fatal("lock key must use the raw key")
	}
	if ok, err := b.Lock(ctx, "job1", time.Second); err != nil || ok {
		t.Fatalf("b.Lock while held: ok %v err %v", ok, err)
	}
	if err := a.Unlock(ctx, "job1"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if ok, err := b.Lock(ctx, "job1", time.Second); err != nil || !ok {
		t.Fatalf("b.Lock after unlock: ok %v err %v", ok, err)
	}
	if _, err := a.Lock(ctx, "", time.Second); !errors.Is(err, cerrors.ErrNilKey) {
		t.Fatalf("expected ErrNilKey, got %v", err)
	}
}

func TestLockWait(t *testing.T) {
	st := store.NewMemory()
	clock := clockwork.NewFakeClock()
	a := New[string](st, WithCoordinator(newTestCoordinator(st, clock)))
	b := New[string](st, WithCoordinator(newTestCoordinator(st, clock)), WithLockWait(time.Second))
	ctx := context.Background()

	_, _ = a.Lock(ctx, "job", 300*time.Millisecond)
	start := clock.Now()
	if ok, err := b.Lock(ctx, "job", time.Second); err != nil || !ok {
		t.Fatalf("b should take the lock once the lease expires, ok %v err %v", ok, err)
	}
	if waited := clock.Since(start); waited < 300*time.Millisecond || waited > time.Second {
		t.Fatalf("unexpected wait %v", waited)
	}
}

func TestSentinels(t *testing.T) {
	c := New[string](store.NewMemory(), WithRegion("orders"))
	if c.RegionName() != "orders" {
		t.Fatalf("unexpected region %q", c.RegionName())
	}
	if c.Timeout() != 0 {
		t.Fatalf("expected timeout 0, got %d", c.Timeout())
	}
	if c.SizeInMemory() != -1 || c.ElementCountInMemory() != -1 || c.ElementCountOnDisk() != -1 {
		t.Fatal("size and count accessors must report -1")
	}
}

func TestCloseReleasesLocks(t *testing.T) {
	st := store.NewMemory()
	c := New[string](st)
	ctx := context.Background()

	if ok, _ := c.Lock(ctx, "job", time.Minute); !ok {
		t.Fatal("Lock failed")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ok, _ := st.Exists(ctx, "job.lock"); ok {
		t.Fatal("Close should release held locks")
	}
}

func TestCacheMetrics(t *testing.T) {
	c := New[string](store.NewMemory())
	ctx := context.Background()
	hits := testutil.ToFloat64(metrics.CacheOpsCounter.WithLabelValues("get", "hit"))
	misses := testutil.ToFloat64(metrics.CacheOpsCounter.WithLabelValues("get", "miss"))

	_ = c.Put(ctx, "k", "v")
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "other")

	if got := testutil.ToFloat64(metrics.CacheOpsCounter.WithLabelValues("get", "hit")) - hits; got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheOpsCounter.WithLabelValues("get", "miss")) - misses; got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
}
