package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				owner VARCHAR(255) NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
		`,
		2: `
			-- Run store: runs hold the launch-time snapshot and plan, run_events is
			-- append-only, node_instances is the latest record per instance.
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				header JSONB NOT NULL,
				snapshot JSONB NOT NULL,
				plan JSONB NOT NULL,
				last_seq BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_runs_workflow_id ON runs(workflow_id);
			CREATE INDEX idx_runs_status ON runs(status);

			CREATE TABLE run_events (
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				seq BIGINT NOT NULL,
				event_type VARCHAR(50) NOT NULL,
				payload JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (run_id, seq)
			);

			CREATE TABLE node_instances (
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				instance_id VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				iteration INT NOT NULL,
				status VARCHAR(20) NOT NULL,
				record JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (run_id, instance_id)
			);

			CREATE INDEX idx_node_instances_status ON node_instances(run_id, status);
		`,
	}
}
