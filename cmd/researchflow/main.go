package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "researchflow",
	Short: "Parallel research flow orchestrator",
	Long: `researchflow fans a research question out to web, GitHub, arXiv,
YouTube and custom backends as a flow of tasks, runs them in parallel under
shared resource and rate limits, and collects the results.

Run "researchflow serve" to start the orchestrator and its HTTP API, then use
the "flows" commands to drive it.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML or JSON config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(flowsCmd)
}
