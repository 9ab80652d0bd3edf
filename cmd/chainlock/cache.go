package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chainlock/chainlock/cache"
	"github.com/chainlock/chainlock/librisk"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the analysis cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := librisk.New(cmd.Context(), optsFromConfig())
		if err != nil {
			return err
		}
		defer lib.Close()
		st, err := lib.Cache().Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired entries and enforce the size cap",
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := librisk.New(cmd.Context(), optsFromConfig())
		if err != nil {
			return err
		}
		defer lib.Close()
		return lib.Cache().Sweep(cmd.Context())
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge <namespace>",
	Short: "Drop every entry in a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ns := cache.Namespace(args[0])
		switch ns {
		case cache.NamespaceLLM, cache.NamespaceReputation,
			cache.NamespaceRegistry, cache.NamespaceOSV, cache.NamespaceMaliciousDB:
		default:
			return fmt.Errorf("unknown namespace %q", args[0])
		}
		lib, err := librisk.New(cmd.Context(), optsFromConfig())
		if err != nil {
			return err
		}
		defer lib.Close()
		return lib.Cache().PurgeNamespace(cmd.Context(), ns)
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheSweepCmd, cachePurgeCmd)
}
