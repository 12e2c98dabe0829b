package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeshGate/MeshGate/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ MeshGate Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway configuration status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 MeshGate Status")
		fmt.Printf("Version: %s\n", version)

		path, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config load error: %v\n", err)
			return
		}
		fmt.Printf("Gateway: %s (%s)\n", cfg.Gateway.Name, cfg.Gateway.GatewayID)
		fmt.Printf("Mesh:    %s\n", cfg.Mesh.Name)
		switch {
		case cfg.Mesh.KafkaBrokers != "":
			fmt.Printf("Link:    kafka (%s)\n", cfg.Mesh.KafkaBrokers)
		case cfg.Mesh.ProxyURL != "":
			fmt.Printf("Link:    http proxy (%s)\n", cfg.Mesh.ProxyURL)
		default:
			fmt.Println("Link:    none (local-only)")
		}
		if cfg.Checkpoint.Enabled {
			fmt.Printf("Checkpoint: %s\n", cfg.Checkpoint.Path)
		} else {
			fmt.Println("Checkpoint: disabled")
		}
	},
}
