package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkernels/kjit"
	"github.com/openkernels/kjit/frontend"
	"github.com/openkernels/kjit/fusion"
	"github.com/openkernels/kjit/ir"
)

var fuseFlags struct {
	targetFile string
	language   string
	flags      []string
	output     string
	noSync     bool
}

var fuseCmd = &cobra.Command{
	Use:   "fuse [files...]",
	Short: "Fuse several kernels into one and lower the merged unit",
	Long: `Compiles each source file, merges the resulting kernels in argument
order into a single kernel unit and lowers it once. Buffer identity is by
parameter name: parameters sharing a name share the underlying buffer.
Boundaries are synchronized by default.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runFuse,
}

func init() {
	fuseCmd.Flags().StringVarP(&fuseFlags.targetFile, "target", "t", "", "target description TOML file")
	fuseCmd.Flags().StringVarP(&fuseFlags.language, "language", "l", string(frontend.LangOpenCLC), "source language tag")
	fuseCmd.Flags().StringArrayVarP(&fuseFlags.flags, "flag", "f", nil, "front-end compiler flag (repeatable)")
	fuseCmd.Flags().StringVarP(&fuseFlags.output, "output", "o", "fused.kpib", "output file")
	fuseCmd.Flags().BoolVar(&fuseFlags.noSync, "no-sync", false, "do not require barriers at kernel boundaries")
	rootCmd.AddCommand(fuseCmd)
}

func runFuse(cmd *cobra.Command, args []string) error {
	tgt, err := loadTarget(fuseFlags.targetFile)
	if err != nil {
		return err
	}
	sess, err := kjit.Open(tgt, frontend.Language(fuseFlags.language))
	if err != nil {
		return err
	}
	defer sess.Close()

	var units []*ir.KernelUnit
	for _, path := range args {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		m, err := sess.CompileToIR(string(src), frontend.Options{Flags: fuseFlags.flags})
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		units = append(units, m.Kernels...)
	}

	fusion.IdentifyByName(units)
	barriers := make([]bool, len(units)-1)
	for i := range barriers {
		barriers[i] = !fuseFlags.noSync
	}

	fused, err := sess.Fuse(units, barriers)
	if err != nil {
		return err
	}
	blob, err := sess.CompileFused(fused)
	if err != nil {
		return err
	}
	if err := os.WriteFile(fuseFlags.output, blob, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fused %d kernels -> %s (%d params, %d bytes)\n",
		len(units), fuseFlags.output, len(fused.Params), len(blob))
	return nil
}
