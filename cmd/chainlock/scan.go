package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/controller"
	"github.com/chainlock/chainlock/librisk"
)

var (
	scanEcosystem    string
	scanConfidence   float64
	scanSkipExternal bool
	scanNoCache      bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [path|url]",
	Short: "Analyse a project and write a report",
	Long: `Scan resolves the project's dependency tree, checks it against the
known-malicious set, queries vulnerability and reputation sources, and writes
a JSON report. The target is a local directory or a git URL; it defaults to
the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		var eco chainlock.Ecosystem
		if scanEcosystem != "" {
			e, err := chainlock.ParseEcosystem(scanEcosystem)
			if err != nil {
				return err
			}
			eco = e
		}

		opts := optsFromConfig()
		if scanNoCache {
			opts.CacheBackend = librisk.CacheMemory
		}
		lib, err := librisk.New(cmd.Context(), opts)
		if err != nil {
			return err
		}
		defer lib.Close()

		ctrl := controller.New(lib.RunFunc())
		if err := ctrl.Start(cmd.Context(), &controller.StartOptions{
			Target:              target,
			Ecosystem:           eco,
			ConfidenceThreshold: scanConfidence,
			SkipExternal:        scanSkipExternal,
		}); err != nil {
			return err
		}
		return follow(cmd, ctrl)
	},
}

// follow polls the controller, mirroring its log to stderr until the run
// reaches a terminal state. Interrupting the command cancels the run.
func follow(cmd *cobra.Command, ctrl *controller.Controller) error {
	ctx := cmd.Context()
	printed := 0
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			ctrl.Cancel()
		case <-tick.C:
		}
		st := ctrl.Status()
		for _, rec := range st.Log[printed:] {
			fmt.Fprintf(os.Stderr, "%s %s %s\n",
				rec.Time.Format(time.TimeOnly), rec.Level, rec.Message)
		}
		printed = len(st.Log)
		switch st.State {
		case controller.StateCompleted:
			fmt.Fprintln(cmd.OutOrStdout(), st.ResultPath)
			return nil
		case controller.StateFailed:
			return fmt.Errorf("analysis failed; see log above")
		case controller.StateCancelled:
			return fmt.Errorf("analysis cancelled")
		}
	}
}

func init() {
	fs := scanCmd.Flags()
	fs.StringVarP(&scanEcosystem, "ecosystem", "e", "", "force an ecosystem: npm or pypi")
	fs.Float64Var(&scanConfidence, "confidence", 0, "drop findings below this confidence")
	fs.BoolVar(&scanSkipExternal, "skip-external", false, "skip external vulnerability queries")
	fs.BoolVar(&scanNoCache, "no-cache", false, "run with a throwaway in-memory cache")
}
