package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeshGate/MeshGate/internal/checkpoint"
	"github.com/MeshGate/MeshGate/internal/config"
	"github.com/MeshGate/MeshGate/internal/orchestrator"
	"github.com/MeshGate/MeshGate/internal/peerlink"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run and inspect the coordination gateway",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var gatewayRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gateway until interrupted",
	Run:   runGateway,
}

func init() {
	gatewayCmd.AddCommand(gatewayRunCmd)
}

func runGateway(cmd *cobra.Command, args []string) {
	printHeader("🌐 MeshGate Gateway")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	var secret []byte
	if cfg.Security.SharedSecret != "" {
		secret, err = base64.StdEncoding.DecodeString(cfg.Security.SharedSecret)
		if err != nil {
			fmt.Printf("Invalid shared secret: %v\n", err)
			os.Exit(1)
		}
	}

	orch := orchestrator.New(orchestrator.Options{
		GatewayID:         cfg.Gateway.GatewayID,
		SharedSecret:      secret,
		CleanupInterval:   cfg.Gateway.CleanupInterval,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
	})

	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store, err = checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			fmt.Printf("Failed to open checkpoint store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		if st, err := store.LoadState(); err == nil && len(st.Roles) > 0 {
			orch.ImportState(st)
			fmt.Printf("Restored %d roles, %d assignments\n", len(st.Roles), len(st.Assignments))
		}
		if policies, err := store.LoadPolicies(); err == nil && len(policies) > 0 {
			orch.ImportPolicies(policies)
			fmt.Printf("Restored %d policies\n", len(policies))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Mesh.KafkaBrokers != "" {
		link := peerlink.NewKafkaLink(cfg.Mesh.Name, cfg.Gateway.GatewayID,
			cfg.Mesh.KafkaBrokers, cfg.Mesh.ConsumerGroup)
		defer link.Close()
		orch.Router().SetPeerSender(link.Send)
		link.Start(ctx, orch.Router().Route)
		fmt.Printf("Peer link: kafka (%s)\n", cfg.Mesh.KafkaBrokers)
	} else if cfg.Mesh.ProxyURL != "" {
		link := peerlink.NewHTTPLink(cfg.Mesh.Name, cfg.Gateway.GatewayID,
			cfg.Mesh.ProxyURL, cfg.Mesh.ProxyAPIKey)
		orch.Router().SetPeerSender(link.Send)
		fmt.Printf("Peer link: http proxy (%s)\n", cfg.Mesh.ProxyURL)
	} else {
		fmt.Println("Peer link: none (local-only gateway)")
	}

	if err := orch.Start(ctx); err != nil {
		fmt.Printf("Failed to start orchestrator: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Gateway %s running on mesh %q. Ctrl+C to stop.\n",
		cfg.Gateway.GatewayID, cfg.Mesh.Name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	orch.Stop()

	if store != nil {
		if err := store.SaveState(orch.ExportState()); err != nil {
			fmt.Printf("⚠️ State checkpoint failed: %v\n", err)
		}
		if err := store.SavePolicies(orch.ExportPolicies()); err != nil {
			fmt.Printf("⚠️ Policy checkpoint failed: %v\n", err)
		}
	}
	fmt.Println("Gateway stopped.")
}
