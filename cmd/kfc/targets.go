package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openkernels/kjit/frontend"
	"github.com/openkernels/kjit/target"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List supported formats, device classes, architectures and languages",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "default target: %s\n\n", target.Default())

		fmt.Fprintln(out, "formats: pib")
		for _, c := range []target.Class{target.ClassCPU, target.ClassGPU, target.ClassFPGA} {
			fmt.Fprintf(out, "%s:", c)
			fmt.Fprint(out, " any")
			for _, id := range target.Arches(c) {
				fmt.Fprintf(out, " %s", target.ArchName(c, id))
			}
			fmt.Fprintln(out)
		}

		fmt.Fprint(out, "languages:")
		for _, l := range frontend.Languages() {
			fmt.Fprintf(out, " %s", l)
		}
		fmt.Fprintln(out)
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
