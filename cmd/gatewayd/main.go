// Command gatewayd runs the LLM execution gateway daemon: HTTP API, single
// dispatcher, provider registry, and event fan-out in one process. Command
// structure and the signal-aware root context follow cmd/bd/main.go's
// rootCmd/PersistentPreRun shape, trimmed to the single "serve" operation
// this daemon has (bd's many subcommands have no analogue here).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	presetPath string
)

var rootCmd = &cobra.Command{
	Use:   "gatewayd",
	Short: "gatewayd - LLM execution gateway",
	Long:  "A single-process HTTP gateway that queues, dispatches, and tracks LLM generation tasks against a shared GPU.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&presetPath, "presets", "", "path to the provider preset catalog YAML file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
