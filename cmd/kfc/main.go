// kfc is the kernel fusion compiler front door: it resolves a target
// description, compiles kernel source files through the registered front
// ends and emits portable code objects, optionally fusing several kernels
// into one before lowering.
package main

import (
	"os"

	"github.com/spf13/cobra"

	// Built-in front ends register themselves.
	_ "github.com/openkernels/kjit/frontend/cm"
	_ "github.com/openkernels/kjit/frontend/openclc"
)

var rootCmd = &cobra.Command{
	Use:           "kfc",
	Short:         "Online kernel compiler with fusion",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
