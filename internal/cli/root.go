// Package cli implements the meshgate command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/MeshGate/MeshGate/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  __  __           _     ____       _\n" +
		" |  \\/  | ___  ___| |__ / ___| __ _| |_ ___\n" +
		" | |\\/| |/ _ \\/ __| '_ \\ |  _ / _` | __/ _ \\\n" +
		" | |  | |  __/\\__ \\ | | | |_| | (_| | ||  __/\n" +
		" |_|  |_|\\___||___/_| |_|\\____|\\__,_|\\__\\___|\n"
)

var rootCmd = &cobra.Command{
	Use:   "meshgate",
	Short: "MeshGate - Multi-Agent Coordination Gateway",
	Long:  color.CyanString(logo) + "\nA message-oriented runtime coordinating agents across a gateway mesh.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(policyCmd)
}
