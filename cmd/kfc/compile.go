package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openkernels/kjit"
	"github.com/openkernels/kjit/frontend"
)

var compileFlags struct {
	targetFile string
	language   string
	flags      []string
	outSuffix  string
}

var compileCmd = &cobra.Command{
	Use:   "compile [files...]",
	Short: "Compile kernel source files to portable code objects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileFlags.targetFile, "target", "t", "", "target description TOML file")
	compileCmd.Flags().StringVarP(&compileFlags.language, "language", "l", string(frontend.LangOpenCLC), "source language tag")
	compileCmd.Flags().StringArrayVarP(&compileFlags.flags, "flag", "f", nil, "front-end compiler flag (repeatable)")
	compileCmd.Flags().StringVar(&compileFlags.outSuffix, "suffix", ".kpib", "output file suffix")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command, args []string) error {
	tgt, err := loadTarget(compileFlags.targetFile)
	if err != nil {
		return err
	}

	// Sessions are independent, so each input file compiles on its own
	// session concurrently.
	var g errgroup.Group
	for _, path := range args {
		g.Go(func() error {
			sess, err := kjit.Open(tgt, frontend.Language(compileFlags.language))
			if err != nil {
				return err
			}
			defer sess.Close()

			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			blob, err := sess.Compile(string(src), frontend.Options{Flags: compileFlags.flags})
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out := outputName(path, compileFlags.outSuffix)
			if err := os.WriteFile(out, blob, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%d bytes)\n", path, out, len(blob))
			return nil
		})
	}
	return g.Wait()
}

func outputName(path, suffix string) string {
	if i := strings.LastIndexByte(path, '.'); i > strings.LastIndexByte(path, '/') {
		return path[:i] + suffix
	}
	return path + suffix
}
