package postgres

// Timestamps are stored as unix nanoseconds, zero meaning unset, so that
// loaded values compare equal to what was written.

var schema = []string{
	`CREATE TABLE IF NOT EXISTS account_identities (
		account BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email_address TEXT NOT NULL,
		address_line_one TEXT NOT NULL,
		address_line_two TEXT NOT NULL,
		address_line_three TEXT NOT NULL,
		city TEXT NOT NULL,
		province TEXT NOT NULL,
		country TEXT NOT NULL,
		photo_id BYTEA,
		user_notes TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_parameters (
		account BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		buying_power TEXT NOT NULL,
		allowed_state INTEGER NOT NULL,
		allowed_state_expiry BIGINT NOT NULL,
		net_loss TEXT NOT NULL,
		transition_time BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_states (
		account BIGINT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		state INTEGER NOT NULL,
		expiry BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS account_modification_requests (
		id BIGINT PRIMARY KEY,
		type INTEGER NOT NULL,
		account BIGINT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		submission_account BIGINT NOT NULL,
		submission_name TEXT NOT NULL DEFAULT '',
		recorded_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS account_modification_requests_account
		ON account_modification_requests (account, id)`,
	`CREATE INDEX IF NOT EXISTS account_modification_requests_submission
		ON account_modification_requests (submission_account, id)`,
	`CREATE TABLE IF NOT EXISTS entitlement_modifications (
		id BIGINT NOT NULL REFERENCES account_modification_requests (id),
		position INTEGER NOT NULL,
		entitlement BIGINT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS risk_modifications (
		id BIGINT PRIMARY KEY REFERENCES account_modification_requests (id),
		currency TEXT NOT NULL,
		buying_power TEXT NOT NULL,
		allowed_state INTEGER NOT NULL,
		allowed_state_expiry BIGINT NOT NULL,
		net_loss TEXT NOT NULL,
		transition_time BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS account_modification_request_updates (
		id BIGINT NOT NULL REFERENCES account_modification_requests (id),
		sequence_number INTEGER NOT NULL,
		status INTEGER NOT NULL,
		account BIGINT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		recorded_at BIGINT NOT NULL,
		PRIMARY KEY (id, sequence_number)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGINT PRIMARY KEY,
		account BIGINT NOT NULL,
		account_name TEXT NOT NULL DEFAULT '',
		recorded_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS message_bodies (
		id BIGINT NOT NULL REFERENCES messages (id),
		position INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS account_modification_request_messages (
		entry BIGSERIAL PRIMARY KEY,
		request_id BIGINT NOT NULL REFERENCES account_modification_requests (id),
		message_id BIGINT NOT NULL REFERENCES messages (id)
	)`,
	`CREATE INDEX IF NOT EXISTS account_modification_request_messages_request
		ON account_modification_request_messages (request_id, entry)`,
}
