package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-cachelock/v1/cache"
	"github.com/mirkobrombin/go-cachelock/v1/lock"
	"github.com/mirkobrombin/go-cachelock/v1/store"
)

// Version is the cachelock CLI version.
const Version = "1.0.0"

type storeOpener func(v *viper.Viper) (store.Store, error)

// app holds the state shared by the commands of one invocation.
type app struct {
	v        *viper.Viper
	open     storeOpener
	store    store.Store
	cache    *cache.Cache[json.RawMessage]
	locks    *lock.Coordinator
	shutdown func(context.Context) error

	keepLocks bool
}

func newRootCmd() *cobra.Command {
	return newApp(openStore).rootCmd()
}

func newApp(open storeOpener) *app {
	return &app{v: viper.New(), open: open}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cachelock",
		Short: "shared cache and lease locks over redis or etcd",
		Long: fmt.Sprintf(`cachelock (v%s)

Reads and writes JSON values in a shared key-value store and coordinates
work across processes with leased locks kept in the same store.`, Version),
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	setupFlags(root)

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cachelock",
		// no store needed
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cachelock v%s\n", Version)
		},
	}

	root.AddCommand(a.kvCommands()...)
	root.AddCommand(a.lockCommands(), version)
	return root
}

// setup binds flags, then opens the store, the cache and the coordinator.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	initConfig(a.v)
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	setupLogging(a.v)

	shutdown, err := setupTracing(a.v)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	st, err := a.open(a.v)
	if err != nil {
		return err
	}
	a.store = st

	var (
		lockOpts  []lock.Option
		cacheOpts = []cache.Option{cache.WithRegion(a.v.GetString("region"))}
	)
	if a.v.GetBool("trace") {
		lockOpts = append(lockOpts, lock.WithTracing())
		cacheOpts = append(cacheOpts, cache.WithTracing())
	}
	a.locks = lock.New(st, lockOpts...)
	a.cache = cache.New[json.RawMessage](st, append(cacheOpts, cache.WithCoordinator(a.locks))...)
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	var err error
	switch {
	case a.keepLocks:
		err = a.store.Close()
	case a.cache != nil:
		err = a.cache.Close()
	}
	if a.shutdown != nil {
		if serr := a.shutdown(cmd.Context()); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
