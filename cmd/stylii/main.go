package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stylii",
	Short: "Command line companion for the Stylii design backend",
	Long: `stylii drives a design session against a running backend: upload a room
photo, pick a style and get shopping recommendations plus a composite render.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newDesignCmd())
	rootCmd.AddCommand(newEventsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
