package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-cachelock/v1/lock"
)

func (a *app) lockCommands() *cobra.Command {
	var (
		lease time.Duration
		wait  time.Duration
	)

	lockCmd := &cobra.Command{
		Use:   "lock",
		Short: "Perform lock operations",
	}

	runCmd := &cobra.Command{
		Use:   "run [key] -- [command] [args...]",
		Short: "Run a command while holding a lock",
		Long: `Acquire the lock for key, run the command and release the lock when the
command exits. Fails without running the command if the lock stays busy for
the whole wait budget.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := args[0]

			ok, err := a.locks.Acquire(ctx, key, lease, wait)
			if err != nil {
				return fmt.Errorf("failed to acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("lock %q is busy", key)
			}
			defer func() { _ = a.locks.Release(ctx, key) }()

			child := exec.CommandContext(ctx, args[1], args[2:]...)
			child.Stdin = os.Stdin
			child.Stdout = cmd.OutOrStdout()
			child.Stderr = cmd.ErrOrStderr()
			return child.Run()
		},
	}
	runCmd.Flags().DurationVar(&lease, "lease", 30*time.Second, "lease after which the lock can be stolen")
	runCmd.Flags().DurationVar(&wait, "wait", 0, "how long to wait for a busy lock")

	tryCmd := &cobra.Command{
		Use:   "try [key]",
		Short: "Take a lock once and leave it to expire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.locks.TryAcquire(cmd.Context(), args[0], lease)
			if err != nil {
				return fmt.Errorf("failed to acquire lock: %w", err)
			}
			// the lease outlives this process
			a.keepLocks = ok
			fmt.Fprintf(cmd.OutOrStdout(), "acquired=%v\n", ok)
			return nil
		},
	}
	tryCmd.Flags().DurationVar(&lease, "lease", 30*time.Second, "lease after which the lock can be stolen")

	statusCmd := &cobra.Command{
		Use:   "status [key]",
		Short: "Show the lease stored for a lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lockKey, err := lock.LockKey(args[0])
			if err != nil {
				return err
			}
			v, ok, err := a.store.Get(cmd.Context(), lockKey)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "locked=false")
				return nil
			}
			expiry, err := lock.ParseExpiry(v)
			if err != nil {
				return err
			}
			until := time.UnixMilli(expiry)
			fmt.Fprintf(cmd.OutOrStdout(), "locked=true expires=%s expired=%v\n",
				until.UTC().Format(time.RFC3339Nano), until.Before(time.Now()))
			return nil
		},
	}

	lockCmd.AddCommand(runCmd, tryCmd, statusCmd)
	return lockCmd
}
