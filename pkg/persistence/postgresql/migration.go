package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT false,
				is_draft BOOLEAN NOT NULL DEFAULT true,
				version INTEGER NOT NULL DEFAULT 1,
				graph JSONB NOT NULL,
				total_executions BIGINT NOT NULL DEFAULT 0,
				success_count BIGINT NOT NULL DEFAULT 0,
				failure_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_active ON automations(is_active, is_draft);

			CREATE TABLE graph_snapshots (
				automation_id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL,
				graph JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (automation_id, version)
			);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL,
				graph_version INTEGER NOT NULL,
				trigger_node_id VARCHAR(255) NOT NULL,
				event_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(100) NOT NULL,
				subject JSONB NOT NULL DEFAULT '{}',
				payload JSONB NOT NULL DEFAULT '{}',
				current_node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting_delay', 'completed', 'failed', 'cancelled')),
				resume_at TIMESTAMP WITH TIME ZONE,
				dedupe_key TEXT NOT NULL,
				attempt INTEGER NOT NULL DEFAULT 0,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_executions_dedupe_key ON executions(dedupe_key);
			CREATE INDEX idx_executions_automation ON executions(automation_id, created_at DESC);
			CREATE INDEX idx_executions_waiting ON executions(resume_at) WHERE status = 'waiting_delay';
			CREATE INDEX idx_executions_running ON executions(updated_at) WHERE status = 'running';

			CREATE TABLE execution_steps (
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id),
				sequence INTEGER NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_kind VARCHAR(50) NOT NULL,
				outcome VARCHAR(50) NOT NULL,
				attempt INTEGER NOT NULL DEFAULT 0,
				detail JSONB,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, sequence)
			);

			CREATE TABLE message_templates (
				id VARCHAR(255) PRIMARY KEY,
				channel VARCHAR(20) NOT NULL,
				subject TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		2: `
			CREATE TABLE execution_leases (
				key VARCHAR(255) PRIMARY KEY,
				owner VARCHAR(255) NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_leases_expires_at ON execution_leases(expires_at);
		`,
	}
}
