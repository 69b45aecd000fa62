package database

// schemas maps database names to their bootstrap DDL. All statements are
// idempotent so Migrate can run on every startup.
//
// Layout:
//   - deck:    live entities. audit_log lives beside cards so a status
//     transition and its audit record commit in one transaction.
//   - ledger:  append-only rule execution records.
//   - archive: cold store for audit entries past the retention window.
//   - history: price history and latest quote snapshots.
var schemas = map[string]string{
	"deck": `
CREATE TABLE IF NOT EXISTS cards (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	stock_code  TEXT NOT NULL,
	stock_name  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'WATCH',
	note        TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE(user_id, stock_code)
);
CREATE INDEX IF NOT EXISTS idx_cards_user_status ON cards(user_id, status, updated_at);
CREATE INDEX IF NOT EXISTS idx_cards_stock_code ON cards(stock_code);

CREATE TABLE IF NOT EXISTS rules (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	name                  TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	rule_type             TEXT NOT NULL DEFAULT 'CUSTOM',
	condition_expression  TEXT NOT NULL DEFAULT '',
	trigger_event         TEXT NOT NULL,
	target_status         TEXT NOT NULL,
	enabled               INTEGER NOT NULL DEFAULT 1,
	cooldown_seconds      INTEGER NOT NULL DEFAULT 3600,
	priority              INTEGER NOT NULL DEFAULT 5,
	send_notification     INTEGER NOT NULL DEFAULT 1,
	notification_template TEXT NOT NULL DEFAULT '',
	tags                  TEXT NOT NULL DEFAULT '',
	parameters            TEXT NOT NULL DEFAULT '',
	last_executed_at      TEXT,
	trigger_count         INTEGER NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_user_enabled ON rules(user_id, enabled, rule_type);
CREATE INDEX IF NOT EXISTS idx_rules_trigger_target ON rules(trigger_event, target_status);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	actor_id    TEXT NOT NULL,
	card_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_card_time ON audit_log(card_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_actor_time ON audit_log(actor_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	type         TEXT NOT NULL DEFAULT 'INFO',
	rule_id      TEXT,
	card_id      TEXT,
	stock_code   TEXT,
	execution_id TEXT UNIQUE,
	metadata     TEXT NOT NULL DEFAULT '',
	is_read      INTEGER NOT NULL DEFAULT 0,
	read_at      TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, is_read, created_at);
`,

	"ledger": `
CREATE TABLE IF NOT EXISTS rule_executions (
	id                TEXT PRIMARY KEY,
	rule_id           TEXT NOT NULL,
	card_id           TEXT NOT NULL,
	status            TEXT NOT NULL,
	previous_status   TEXT,
	new_status        TEXT,
	snapshot          BLOB,
	message           TEXT NOT NULL DEFAULT '',
	notification_sent INTEGER NOT NULL DEFAULT 0,
	elapsed_ms        INTEGER NOT NULL DEFAULT 0,
	executed_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_rule_time ON rule_executions(rule_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_executions_card_time ON rule_executions(card_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_executions_status_time ON rule_executions(status, executed_at);
`,

	"archive": `
CREATE TABLE IF NOT EXISTS audit_archive (
	id          TEXT PRIMARY KEY,
	actor_id    TEXT NOT NULL,
	card_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	trace_id    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_archive_card_time ON audit_archive(card_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_archive_actor_time ON audit_archive(actor_id, created_at);
`,

	"history": `
CREATE TABLE IF NOT EXISTS historical_prices (
	stock_code TEXT NOT NULL,
	trade_date TEXT NOT NULL,
	open       REAL NOT NULL,
	high       REAL NOT NULL,
	low        REAL NOT NULL,
	close      REAL NOT NULL,
	volume     INTEGER NOT NULL,
	PRIMARY KEY (stock_code, trade_date)
);

CREATE TABLE IF NOT EXISTS snapshots (
	stock_code     TEXT PRIMARY KEY,
	stock_name     TEXT NOT NULL DEFAULT '',
	price          REAL NOT NULL,
	open           REAL NOT NULL DEFAULT 0,
	high           REAL NOT NULL DEFAULT 0,
	low            REAL NOT NULL DEFAULT 0,
	previous_close REAL NOT NULL DEFAULT 0,
	change_percent REAL NOT NULL DEFAULT 0,
	volume         INTEGER NOT NULL DEFAULT 0,
	fetched_at     TEXT NOT NULL
);
`,
}
