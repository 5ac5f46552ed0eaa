package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) kvCommands() []*cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Print the JSON value stored for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok, err := a.cache.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "found=false")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return nil
		},
	}

	putCmd := &cobra.Command{
		Use:   "put [key] [json]",
		Short: "Store a JSON value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage(args[1])
			if !json.Valid(raw) {
				return fmt.Errorf("value is not valid JSON: %s", args[1])
			}
			return a.cache.Put(cmd.Context(), args[0], raw)
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove [key]",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cache.Remove(cmd.Context(), args[0])
		},
	}

	existsCmd := &cobra.Command{
		Use:   "exists [key]",
		Short: "Report whether a key has a value",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "exists=%v\n", a.cache.Exists(cmd.Context(), args[0]))
		},
	}

	return []*cobra.Command{getCmd, putCmd, removeCmd, existsCmd}
}
