// Command wasmkerneld loads a WASM module, instantiates it as a process
// inside a ProcessCollection, and drives the scheduler's Run loop until the
// process terminates, forwarding any unresolved host call across the
// configured host bridge.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "wasmkerneld",
		Short: "WASM process scheduler daemon",
		Long:  "wasmkerneld instantiates WASM modules as cooperatively scheduled processes and services their host calls out of process.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
