// Package checkpoint persists orchestrator state snapshots to SQLite so a
// gateway can restore roles, assignments and policies across restarts. The
// coordination core itself stays in-memory; this store only consumes its
// export snapshots.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MeshGate/MeshGate/internal/roles"
	"github.com/MeshGate/MeshGate/internal/security"
)

// Store is a SQLite-backed snapshot store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the checkpoint database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveState replaces the stored role snapshot.
func (s *Store) SaveState(st roles.State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM roles`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM role_assignments`); err != nil {
		return err
	}

	for _, r := range st.Roles {
		allowed, _ := json.Marshal(r.AllowedTools)
		denied, _ := json.Marshal(r.DeniedTools)
		if _, err := tx.Exec(`INSERT INTO roles
			(role_id, name, description, system_prompt_fragment, allowed_tools, denied_tools, max_concurrent, priority)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RoleID, r.Name, r.Description, r.SystemPromptFragment,
			string(allowed), string(denied), r.MaxConcurrent, r.Priority); err != nil {
			return err
		}
	}
	for _, a := range st.Assignments {
		roleJSON, err := json.Marshal(a.Role)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO role_assignments
			(agent_instance_id, agent_config_id, gateway_id, role_json, assigned_at, assigned_by)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.AgentInstanceID, a.AgentConfigID, a.GatewayID,
			string(roleJSON), a.AssignedAt.UTC().Format(time.RFC3339Nano), a.AssignedBy); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO checkpoint_meta (key, value) VALUES ('state_saved_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadState reads the stored role snapshot.
func (s *Store) LoadState() (roles.State, error) {
	var st roles.State

	rows, err := s.db.Query(`SELECT role_id, name, description, system_prompt_fragment,
		allowed_tools, denied_tools, max_concurrent, priority FROM roles`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var r roles.Role
		var allowed, denied string
		if err := rows.Scan(&r.RoleID, &r.Name, &r.Description, &r.SystemPromptFragment,
			&allowed, &denied, &r.MaxConcurrent, &r.Priority); err != nil {
			return st, err
		}
		json.Unmarshal([]byte(allowed), &r.AllowedTools)
		json.Unmarshal([]byte(denied), &r.DeniedTools)
		st.Roles = append(st.Roles, r)
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	arows, err := s.db.Query(`SELECT agent_instance_id, agent_config_id, gateway_id,
		role_json, assigned_at, assigned_by FROM role_assignments`)
	if err != nil {
		return st, err
	}
	defer arows.Close()
	for arows.Next() {
		var a roles.Assignment
		var roleJSON, assignedAt string
		if err := arows.Scan(&a.AgentInstanceID, &a.AgentConfigID, &a.GatewayID,
			&roleJSON, &assignedAt, &a.AssignedBy); err != nil {
			return st, err
		}
		if err := json.Unmarshal([]byte(roleJSON), &a.Role); err != nil {
			return st, fmt.Errorf("corrupt role snapshot for %s: %w", a.AgentInstanceID, err)
		}
		a.AssignedAt, _ = time.Parse(time.RFC3339Nano, assignedAt)
		st.Assignments = append(st.Assignments, a)
	}
	return st, arows.Err()
}

// SavePolicies replaces the stored policy snapshot.
func (s *Store) SavePolicies(policies []security.Policy) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM policies`); err != nil {
		return err
	}
	for _, p := range policies {
		perms, _ := json.Marshal(p.Permissions)
		allowlist, _ := json.Marshal(p.NetworkAllowlist)
		if _, err := tx.Exec(`INSERT INTO policies
			(agent_id, permissions, network_allowlist, max_concurrent_tasks, max_messages_per_minute, allow_cross_gateway)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.AgentID, string(perms), string(allowlist),
			p.MaxConcurrentTasks, p.MaxMessagesPerMinute, p.AllowCrossGateway); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadPolicies reads the stored policy snapshot.
func (s *Store) LoadPolicies() ([]security.Policy, error) {
	rows, err := s.db.Query(`SELECT agent_id, permissions, network_allowlist,
		max_concurrent_tasks, max_messages_per_minute, allow_cross_gateway FROM policies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []security.Policy
	for rows.Next() {
		var p security.Policy
		var perms, allowlist string
		if err := rows.Scan(&p.AgentID, &perms, &allowlist,
			&p.MaxConcurrentTasks, &p.MaxMessagesPerMinute, &p.AllowCrossGateway); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(perms), &p.Permissions)
		json.Unmarshal([]byte(allowlist), &p.NetworkAllowlist)
		out = append(out, p)
	}
	return out, rows.Err()
}
