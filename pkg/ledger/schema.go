package ledger

import (
	"strconv"
	"strings"
)

type dialect struct {
	name   string
	schema []string
	// lockStmt serialises writers for one service inside a transaction.
	// Empty when the in-process mutex is sufficient.
	lockStmt string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{`
CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date TEXT NOT NULL,
	service TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	prompt_count INTEGER NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	task TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_service_date ON usage_events(service, date);
`, `
CREATE TABLE IF NOT EXISTS budget_allocations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	amount INTEGER NOT NULL,
	purpose TEXT NOT NULL DEFAULT '',
	allocated_at DATETIME NOT NULL
);
`, `
CREATE TABLE IF NOT EXISTS task_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_name TEXT NOT NULL,
	prompts_used INTEGER NOT NULL,
	items_processed INTEGER NOT NULL DEFAULT 0,
	items_created INTEGER NOT NULL DEFAULT 0,
	result TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	executed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_time ON task_executions(executed_at);
`},
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{`
CREATE TABLE IF NOT EXISTS usage_events (
	id BIGSERIAL PRIMARY KEY,
	date TEXT NOT NULL,
	service TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	prompt_count BIGINT NOT NULL,
	token_count BIGINT NOT NULL DEFAULT 0,
	cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	task TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`, `CREATE INDEX IF NOT EXISTS idx_usage_service_date ON usage_events(service, date)`, `
CREATE TABLE IF NOT EXISTS budget_allocations (
	id BIGSERIAL PRIMARY KEY,
	service TEXT NOT NULL,
	amount BIGINT NOT NULL,
	purpose TEXT NOT NULL DEFAULT '',
	allocated_at TIMESTAMPTZ NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS task_executions (
	id BIGSERIAL PRIMARY KEY,
	task_name TEXT NOT NULL,
	prompts_used BIGINT NOT NULL,
	items_processed INTEGER NOT NULL DEFAULT 0,
	items_created INTEGER NOT NULL DEFAULT 0,
	result TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	executed_at TIMESTAMPTZ NOT NULL
)`, `CREATE INDEX IF NOT EXISTS idx_executions_time ON task_executions(executed_at)`},
	lockStmt: `SELECT pg_advisory_xact_lock(hashtext(?))`,
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
