package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeshGate/MeshGate/internal/checkpoint"
	"github.com/MeshGate/MeshGate/internal/config"
	"github.com/MeshGate/MeshGate/internal/roles"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Inspect role definitions and assignments",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List role definitions",
	Run:   runRolesList,
}

var rolesAssignmentsCmd = &cobra.Command{
	Use:   "assignments",
	Short: "List checkpointed role assignments",
	Run:   runRolesAssignments,
}

func init() {
	rolesCmd.AddCommand(rolesListCmd)
	rolesCmd.AddCommand(rolesAssignmentsCmd)
}

func openCheckpoint() (*checkpoint.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return checkpoint.Open(cfg.Checkpoint.Path)
}

func runRolesList(cmd *cobra.Command, args []string) {
	defs := roles.BuiltinRoles()
	if store, err := openCheckpoint(); err == nil {
		defer store.Close()
		if st, err := store.LoadState(); err == nil && len(st.Roles) > 0 {
			defs = st.Roles
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tNAME\tPRIORITY\tMAX CONCURRENT")
	for _, r := range defs {
		max := "-"
		if r.MaxConcurrent > 0 {
			max = fmt.Sprintf("%d", r.MaxConcurrent)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.RoleID, r.Name, r.Priority, max)
	}
	w.Flush()
}

func runRolesAssignments(cmd *cobra.Command, args []string) {
	store, err := openCheckpoint()
	if err != nil {
		fmt.Printf("Failed to open checkpoint store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	st, err := store.LoadState()
	if err != nil {
		fmt.Printf("Failed to load state: %v\n", err)
		os.Exit(1)
	}
	if len(st.Assignments) == 0 {
		fmt.Println("No assignments checkpointed.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT INSTANCE\tCONFIG\tROLE\tASSIGNED BY\tASSIGNED AT")
	for _, a := range st.Assignments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.AgentInstanceID, a.AgentConfigID, a.Role.RoleID,
			a.AssignedBy, a.AssignedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}
