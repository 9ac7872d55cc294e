package sqlite

// Timestamps and durations are stored as int64 nanoseconds with 0 meaning
// unset. Decimal amounts are stored as text to keep them exact.
const schema = `
CREATE TABLE IF NOT EXISTS account_identities (
	account INTEGER PRIMARY KEY,
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
	photo_id BLOB,
	user_notes TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_parameters (
	account INTEGER PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL,
	buying_power TEXT NOT NULL,
	allowed_state INTEGER NOT NULL,
	allowed_state_expiry INTEGER NOT NULL,
	net_loss TEXT NOT NULL,
	transition_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_states (
	account INTEGER PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	state INTEGER NOT NULL,
	expiry INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_modification_requests (
	id INTEGER PRIMARY KEY,
	type INTEGER NOT NULL,
	account INTEGER NOT NULL,
	account_name TEXT NOT NULL DEFAULT '',
	submission_account INTEGER NOT NULL,
	submission_name TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS account_modification_requests_account
	ON account_modification_requests (account, id);

CREATE INDEX IF NOT EXISTS account_modification_requests_submission
	ON account_modification_requests (submission_account, id);

CREATE TABLE IF NOT EXISTS entitlement_modifications (
	id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	entitlement INTEGER NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (id, position)
);

CREATE TABLE IF NOT EXISTS risk_modifications (
	id INTEGER PRIMARY KEY,
	currency TEXT NOT NULL,
	buying_power TEXT NOT NULL,
	allowed_state INTEGER NOT NULL,
	allowed_state_expiry INTEGER NOT NULL,
	net_loss TEXT NOT NULL,
	transition_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS account_modification_request_updates (
	id INTEGER NOT NULL,
	sequence_number INTEGER NOT NULL,
	status INTEGER NOT NULL,
	account INTEGER NOT NULL,
	account_name TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (id, sequence_number)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY,
	account INTEGER NOT NULL,
	account_name TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS message_bodies (
	id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	message TEXT NOT NULL,
	PRIMARY KEY (id, position)
);

CREATE TABLE IF NOT EXISTS account_modification_request_messages (
	entry INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id INTEGER NOT NULL,
	message_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS account_modification_request_messages_request
	ON account_modification_request_messages (request_id, entry);
`
