package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions; the graph is stored as JSON documents.
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				category VARCHAR(100) NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				trigger_type VARCHAR(50) NOT NULL DEFAULT 'MANUAL',
				is_active BOOLEAN NOT NULL DEFAULT true,
				execution_count INT NOT NULL DEFAULT 0,
				success_count INT NOT NULL DEFAULT 0,
				failure_count INT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_is_active ON workflows(is_active);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				subject_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				context JSONB NOT NULL DEFAULT '{}',
				checkpoint JSONB,
				resume_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				paused_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_resume ON workflow_executions(status, resume_at);

			CREATE TABLE workflow_execution_steps (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_workflow_execution_steps_execution ON workflow_execution_steps(execution_id, started_at);
		`,
		2: `
			CREATE TABLE portal_configs (
				target VARCHAR(100) PRIMARY KEY,
				display_name VARCHAR(255) NOT NULL DEFAULT '',
				login_url TEXT NOT NULL,
				claims_url TEXT NOT NULL,
				tracking_url TEXT NOT NULL DEFAULT '',
				selectors JSONB NOT NULL DEFAULT '{}',
				has_captcha BOOLEAN NOT NULL DEFAULT false,
				captcha_type VARCHAR(100) NOT NULL DEFAULT '',
				max_concurrent_sessions INT NOT NULL DEFAULT 1,
				session_timeout_ms BIGINT NOT NULL DEFAULT 0
			);

			-- Secret columns hold base64(nonce || ciphertext).
			CREATE TABLE portal_credentials (
				id VARCHAR(255) PRIMARY KEY,
				target VARCHAR(100) NOT NULL,
				account_name VARCHAR(255) NOT NULL DEFAULT '',
				username_enc TEXT NOT NULL,
				password_enc TEXT NOT NULL,
				account_number_enc TEXT NOT NULL DEFAULT '',
				two_factor_method VARCHAR(50) NOT NULL DEFAULT '',
				is_shared BOOLEAN NOT NULL DEFAULT false,
				validation_status VARCHAR(50) NOT NULL DEFAULT 'NEEDS_VERIFICATION',
				last_validated TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_portal_credentials_target ON portal_credentials(target);

			CREATE TABLE cases (
				id VARCHAR(255) PRIMARY KEY,
				target VARCHAR(100) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				claim_number VARCHAR(255) NOT NULL DEFAULT '',
				fields JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE submission_queue (
				id VARCHAR(255) PRIMARY KEY,
				case_id VARCHAR(255) NOT NULL,
				target VARCHAR(100) NOT NULL,
				credential_id VARCHAR(255) NOT NULL,
				submission_type VARCHAR(50) NOT NULL,
				priority VARCHAR(20) NOT NULL,
				priority_rank INT NOT NULL,
				form_data JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL,
				attempt_count INT NOT NULL DEFAULT 0,
				max_attempts INT NOT NULL DEFAULT 3,
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				next_attempt_at TIMESTAMP WITH TIME ZONE,
				last_attempt_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				confirmation_number VARCHAR(255) NOT NULL DEFAULT '',
				claim_number VARCHAR(255) NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_submission_queue_due ON submission_queue(status, priority_rank DESC, scheduled_for, created_at);
			CREATE INDEX idx_submission_queue_case ON submission_queue(case_id);

			CREATE TABLE submission_history (
				id VARCHAR(255) PRIMARY KEY,
				submission_id VARCHAR(255) NOT NULL REFERENCES submission_queue(id) ON DELETE CASCADE,
				case_id VARCHAR(255) NOT NULL,
				target VARCHAR(100) NOT NULL,
				action VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_submission_history_submission ON submission_history(submission_id, created_at);
		`,
	}
}
