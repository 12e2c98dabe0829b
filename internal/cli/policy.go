package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeshGate/MeshGate/internal/security"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and edit checkpointed security policies",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpointed policies",
	Run:   runPolicyList,
}

var (
	policyPermissions string
	policyRate        int
	policyCrossGW     bool
)

var policySetCmd = &cobra.Command{
	Use:   "set <agent-id>",
	Short: "Set a policy for an agent",
	Args:  cobra.ExactArgs(1),
	Run:   runPolicySet,
}

func init() {
	policySetCmd.Flags().StringVar(&policyPermissions, "permissions",
		strings.Join(security.DefaultPolicy("").Permissions, ","),
		"comma-separated permission list")
	policySetCmd.Flags().IntVar(&policyRate, "rate", security.DefaultMaxMessagesPerMinute,
		"max messages per minute")
	policySetCmd.Flags().BoolVar(&policyCrossGW, "cross-gateway", false,
		"allow cross-gateway messaging")
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policySetCmd)
}

func runPolicyList(cmd *cobra.Command, args []string) {
	store, err := openCheckpoint()
	if err != nil {
		fmt.Printf("Failed to open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	policies, err := store.LoadPolicies()
	if err != nil {
		fmt.Printf("Failed to load policies: %v\n", err)
		os.Exit(1)
	}
	if len(policies) == 0 {
		fmt.Println("No policies checkpointed; agents run with defaults.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tRATE/MIN\tCROSS-GW\tPERMISSIONS")
	for _, p := range policies {
		fmt.Fprintf(w, "%s\t%d\t%v\t%s\n",
			p.AgentID, p.MaxMessagesPerMinute, p.AllowCrossGateway,
			strings.Join(p.Permissions, ","))
	}
	w.Flush()
}

func runPolicySet(cmd *cobra.Command, args []string) {
	agentID := args[0]

	perms := []string{}
	for _, p := range strings.Split(policyPermissions, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			perms = append(perms, p)
		}
	}

	store, err := openCheckpoint()
	if err != nil {
		fmt.Printf("Failed to open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	policies, err := store.LoadPolicies()
	if err != nil {
		fmt.Printf("Failed to load policies: %v\n", err)
		os.Exit(1)
	}

	updated := security.Policy{
		AgentID:              agentID,
		Permissions:          perms,
		MaxConcurrentTasks:   security.DefaultMaxConcurrentTasks,
		MaxMessagesPerMinute: policyRate,
		AllowCrossGateway:    policyCrossGW,
	}
	replaced := false
	for i, p := range policies {
		if p.AgentID == agentID {
			policies[i] = updated
			replaced = true
			break
		}
	}
	if !replaced {
		policies = append(policies, updated)
	}

	if err := store.SavePolicies(policies); err != nil {
		fmt.Printf("Failed to save policies: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Policy saved for %s. The gateway picks it up on next start.\n", agentID)
}
