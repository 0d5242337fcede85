package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var topologyPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reflex",
	Short: "Reflex IP fast reroute fabric",
	Long: `Reflex emulates a switch fabric with IP fast reroute.
Switches detect adjacent link failures through heartbeat staleness and shift
traffic onto precomputed loop-free alternates before the central planner has
reconverged.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyPath, "topology", "c", "topology.yaml", "network topology config")
}
