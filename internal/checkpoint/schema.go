package checkpoint

// Schema creates the checkpoint tables. Snapshots are total replaces, so
// every table is keyed by its natural id with no history.
const Schema = `
CREATE TABLE IF NOT EXISTS roles (
	role_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT DEFAULT '',
	system_prompt_fragment TEXT DEFAULT '',
	allowed_tools TEXT DEFAULT '[]',
	denied_tools TEXT DEFAULT '[]',
	max_concurrent INTEGER DEFAULT 0,
	priority INTEGER DEFAULT 50
);

CREATE TABLE IF NOT EXISTS role_assignments (
	agent_instance_id TEXT PRIMARY KEY,
	agent_config_id TEXT NOT NULL,
	gateway_id TEXT NOT NULL,
	role_json TEXT NOT NULL,
	assigned_at TIMESTAMP NOT NULL,
	assigned_by TEXT DEFAULT ''
);

CREATE TABLE IF NOT EXISTS policies (
	agent_id TEXT PRIMARY KEY,
	permissions TEXT DEFAULT '[]',
	network_allowlist TEXT DEFAULT '[]',
	max_concurrent_tasks INTEGER DEFAULT 8,
	max_messages_per_minute INTEGER DEFAULT 120,
	allow_cross_gateway BOOLEAN DEFAULT 0
);

CREATE TABLE IF NOT EXISTS checkpoint_meta (
	key TEXT PRIMARY KEY,
	value TEXT
);
`
