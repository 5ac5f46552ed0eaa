package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-cachelock/v1/store"
)

const breakerCooldown = 30 * time.Second

// setupFlags registers the connection flags shared by every command.
func setupFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("backend", "redis", "store backend (redis, etcd)")
	f.String("redis-addr", "localhost:6379", "address of the redis server")
	f.String("etcd-endpoints", "localhost:2379", "comma-separated etcd endpoints")
	f.Int("timeout", 5, "per-operation timeout in seconds")
	f.String("region", "default", "cache region name")
	f.Int("breaker", 0, "consecutive store failures before failing fast (0 disables)")
	f.Bool("trace", false, "print OpenTelemetry spans to stdout")
	f.Bool("verbose", false, "enable debug logging")
}

// initConfig loads .env files and maps CACHELOCK_* variables onto flags.
func initConfig(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("cachelock")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func setupLogging(v *viper.Viper) {
	level := slog.LevelInfo
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// setupTracing installs a stdout span exporter when --trace is set. The
// returned function flushes it.
func setupTracing(v *viper.Viper) (func(context.Context) error, error) {
	if !v.GetBool("trace") {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// openStore connects to the configured backend.
func openStore(v *viper.Viper) (store.Store, error) {
	timeout := time.Duration(v.GetInt("timeout")) * time.Second
	opts := []store.Option{store.WithTimeout(timeout)}

	var (
		st  store.Store
		err error
	)
	switch backend := v.GetString("backend"); backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        v.GetString("redis-addr"),
			DialTimeout: timeout,
		})
		st = store.NewRedis(client, opts...)
	case "etcd":
		st, err = store.DialEtcd(strings.Split(v.GetString("etcd-endpoints"), ","), opts...)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid backend %s", backend)
	}

	if n := v.GetInt("breaker"); n > 0 {
		st = store.NewBreaker(st, n, breakerCooldown)
	}
	return st, nil
}
