package metrics

import "github.com/prometheus/client_golang/prometheus"

// Acquire results used as the "result" label of LockAcquireCounter.
const (
	ResultFast     = "fast"
	ResultSteal    = "steal"
	ResultTimeout  = "timeout"
	ResultCanceled = "canceled"
	ResultError    = "error"
)

var (
	// LockAcquireCounter counts finished Acquire calls by outcome.
	LockAcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cachelock_lock_acquire_total",
		Help: "Total number of lock acquire calls by result",
	}, []string{"result"})
	// LockPollCounter counts poll intervals slept while waiting for a lock.
	LockPollCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachelock_lock_poll_total",
		Help: "Total number of poll intervals spent waiting for contended locks",
	})
	// LockReleaseCounter counts releases that deleted a lock key.
	LockReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cachelock_lock_release_total",
		Help: "Total number of lock releases that removed a lock key",
	})
	// LockWaitHistogram observes how long Acquire calls took.
	LockWaitHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cachelock_lock_wait_seconds",
		Help:    "Time spent inside lock acquire calls",
		Buckets: prometheus.DefBuckets,
	})
	// CacheOpsCounter counts cache façade operations by op and result.
	CacheOpsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cachelock_cache_ops_total",
		Help: "Total number of cache operations by operation and result",
	}, []string{"op", "result"})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterMetrics registers the cachelock collectors on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(LockAcquireCounter, LockPollCounter, LockReleaseCounter, LockWaitHistogram, CacheOpsCounter)
}
