package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/depgraph"
	"github.com/chainlock/chainlock/ecosystem"
	"github.com/chainlock/chainlock/ecosystem/defaults"
	"github.com/chainlock/chainlock/librisk"
)

var (
	sbomFormat    string
	sbomEcosystem string
	sbomOut       string
)

var sbomCmd = &cobra.Command{
	Use:   "sbom [path]",
	Short: "Resolve the dependency graph and emit an SPDX document or DOT graph",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		defaults.Register()

		m, err := loadManifest(cmd, dir)
		if err != nil {
			return err
		}
		lib, err := librisk.New(ctx, optsFromConfig())
		if err != nil {
			return err
		}
		defer lib.Close()
		g, err := lib.Resolve(ctx, m)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if sbomOut != "" {
			f, err := os.Create(sbomOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		switch sbomFormat {
		case "spdx":
			enc := depgraph.NewEncoder(depgraph.WithDocumentName(m.Root.Name))
			return enc.Encode(ctx, out, g)
		case "dot":
			return depgraph.WriteDOT(out, g, 0)
		}
		return fmt.Errorf("unknown format %q", sbomFormat)
	},
}

func loadManifest(cmd *cobra.Command, dir string) (*ecosystem.Manifest, error) {
	ctx := cmd.Context()
	detected, err := ecosystem.Detect(ctx, dir)
	if err != nil {
		return nil, err
	}
	var eco chainlock.Ecosystem
	switch {
	case sbomEcosystem != "":
		e, err := chainlock.ParseEcosystem(sbomEcosystem)
		if err != nil {
			return nil, err
		}
		eco = e
	case len(detected) == 1:
		for e := range detected {
			eco = e
		}
	case len(detected) == 0:
		return nil, fmt.Errorf("no supported manifest found under %s", dir)
	default:
		return nil, fmt.Errorf("multiple ecosystems detected; pass --ecosystem")
	}
	paths := detected[eco]
	if len(paths) == 0 {
		return nil, fmt.Errorf("no %s manifest found under %s", eco, dir)
	}
	h, err := ecosystem.Get(eco)
	if err != nil {
		return nil, err
	}
	return h.ParseManifest(ctx, paths[0])
}

func init() {
	fs := sbomCmd.Flags()
	fs.StringVarP(&sbomFormat, "format", "f", "spdx", "output format: spdx or dot")
	fs.StringVarP(&sbomEcosystem, "ecosystem", "e", "", "force an ecosystem: npm or pypi")
	fs.StringVarP(&sbomOut, "out", "o", "", "write to a file instead of stdout")
}
