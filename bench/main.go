package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-cachelock/v1/lock"
	"github.com/mirkobrombin/go-cachelock/v1/store"
)

var (
	concurrency = flag.Int("c", 8, "Concurrent lock holders")
	rounds      = flag.Int("n", 200, "Acquisitions per holder")
	keys        = flag.Int("k", 1, "Number of distinct lock keys")
	hold        = flag.Duration("hold", time.Millisecond, "Time spent inside the critical section")
	poll        = flag.Duration("poll", 5*time.Millisecond, "Poll interval while waiting")
	target      = flag.String("target", "all", "Target: memory, redis, etcd")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
	etcdAddr    = flag.String("etcd-endpoints", "localhost:2379", "Comma-separated etcd endpoints")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"memory", "redis", "etcd"}
	}

	fmt.Printf("| %-10s | %-12s | %-12s | %-10s |\n", "Store", "Locks/sec", "Avg Wait", "Timeouts")
	fmt.Println("|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t))
	}
}

func openTarget(name string) (store.Store, error) {
	switch name {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(redis.NewClient(&redis.Options{Addr: *redisAddr})), nil
	case "etcd":
		return store.DialEtcd(strings.Split(*etcdAddr, ","))
	}
	return nil, fmt.Errorf("unknown target: %s", name)
}

func runBenchmark(name string) {
	st, err := openTarget(name)
	if err != nil {
		log.Print(err)
		return
	}
	defer st.Close()

	ctx := context.Background()
	var (
		wg       sync.WaitGroup
		acquired atomic.Int64
		timeouts atomic.Int64
		waited   atomic.Int64
	)

	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c := lock.New(st, lock.WithPollInterval(*poll))
			for j := 0; j < *rounds; j++ {
				key := fmt.Sprintf("bench:%d", (worker+j)%*keys)
				t0 := time.Now()
				ok, err := c.Acquire(ctx, key, time.Minute, 10*time.Second)
				if err != nil {
					return
				}
				waited.Add(int64(time.Since(t0)))
				if !ok {
					timeouts.Add(1)
					continue
				}
				acquired.Add(1)
				time.Sleep(*hold)
				_ = c.Release(ctx, key)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	n := acquired.Load()
	if n == 0 {
		fmt.Printf("| %-10s | %-12s | %-12s | %-10s |\n", name, "ERROR", "-", "-")
		return
	}
	avgWait := time.Duration(waited.Load() / (n + timeouts.Load()))
	fmt.Printf("| %-10s | %-12.0f | %-12s | %-10d |\n", name, float64(n)/elapsed.Seconds(), avgWait, timeouts.Load())
}
