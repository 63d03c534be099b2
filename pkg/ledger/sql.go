package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/dixie/pkg/models"
)

const dateLayout = "2006-01-02"

var _ Ledger = (*SQLLedger)(nil)

// SQLLedger implements Ledger on SQLite or Postgres.
type SQLLedger struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
	locs    map[string]*time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLite opens a SQLite ledger at dbPath and runs auto-migration.
// A single connection is used so that writes are serialised.
func NewSQLite(dbPath string, opts ...Option) (*SQLLedger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return newSQLLedger(db, sqliteDialect, opts...)
}

// NewPostgres opens a Postgres ledger using a lib/pq DSN.
func NewPostgres(dsn string, opts ...Option) (*SQLLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return newSQLLedger(db, postgresDialect, opts...)
}

// NewPostgresDB wraps an existing Postgres handle. Migrations are not run.
func NewPostgresDB(db *sql.DB, opts ...Option) *SQLLedger {
	l := &SQLLedger{db: db, dialect: postgresDialect}
	l.init(opts)
	return l
}

func newSQLLedger(db *sql.DB, d dialect, opts ...Option) (*SQLLedger, error) {
	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate ledger db: %w", err)
		}
	}
	l := &SQLLedger{db: db, dialect: d}
	l.init(opts)
	return l, nil
}

func (l *SQLLedger) init(opts []Option) {
	l.now = time.Now
	l.locs = make(map[string]*time.Location)
	l.locks = make(map[string]*sync.Mutex)
	for _, o := range opts {
		o(l)
	}
}

func (l *SQLLedger) lockFor(service string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[service]
	if !ok {
		m = &sync.Mutex{}
		l.locks[service] = m
	}
	return m
}

func (l *SQLLedger) location(service string) *time.Location {
	if loc, ok := l.locs[service]; ok && loc != nil {
		return loc
	}
	return time.UTC
}

func (l *SQLLedger) dateOf(service string, t time.Time) string {
	return t.In(l.location(service)).Format(dateLayout)
}

// Today returns local midnight for the service, expressed in UTC.
func (l *SQLLedger) Today(service string) time.Time {
	now := l.now().In(l.location(service))
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *SQLLedger) insertEvent(ctx context.Context, ex execer, ev models.UsageEvent) error {
	_, err := ex.ExecContext(ctx, l.dialect.rebind(
		`INSERT INTO usage_events (date, service, model, prompt_count, token_count, cost, task, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.Date, ev.Service, ev.Model, ev.Amount, ev.TokenCount, ev.Cost, ev.Task, ev.CreatedAt,
	)
	return err
}

func (l *SQLLedger) sumToday(ctx context.Context, ex execer, service, date string) (int64, error) {
	var total int64
	err := ex.QueryRowContext(ctx, l.dialect.rebind(
		`SELECT COALESCE(SUM(prompt_count), 0) FROM usage_events WHERE service = ? AND date = ?`),
		service, date,
	).Scan(&total)
	return total, err
}

func (l *SQLLedger) stamp(ev models.UsageEvent) models.UsageEvent {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.Date = l.dateOf(ev.Service, ev.CreatedAt)
	return ev
}

// Record appends a usage event. It returns only after the write is durable.
func (l *SQLLedger) Record(ctx context.Context, ev models.UsageEvent) error {
	if ev.Service == "" {
		return fmt.Errorf("record usage: service is required")
	}
	if ev.Amount < 0 {
		return fmt.Errorf("record usage: negative amount %d", ev.Amount)
	}
	ev = l.stamp(ev)

	m := l.lockFor(ev.Service)
	m.Lock()
	defer m.Unlock()

	if err := l.insertEvent(ctx, l.db, ev); err != nil {
		return storageErr("record usage", err)
	}
	return nil
}

// UsedToday sums the service's prompt usage for its current local day.
func (l *SQLLedger) UsedToday(ctx context.Context, service string) (int64, error) {
	m := l.lockFor(service)
	m.Lock()
	defer m.Unlock()

	total, err := l.sumToday(ctx, l.db, service, l.dateOf(service, l.now()))
	if err != nil {
		return 0, storageErr("used today", err)
	}
	return total, nil
}

// AutonomousUsedToday sums prompts charged by background tasks today.
func (l *SQLLedger) AutonomousUsedToday(ctx context.Context, service string) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx, l.dialect.rebind(
		`SELECT COALESCE(SUM(prompt_count), 0) FROM usage_events
		 WHERE service = ? AND date = ? AND task LIKE ?`),
		service, l.dateOf(service, l.now()), models.AutonomousTaskPrefix+"%",
	).Scan(&total)
	if err != nil {
		return 0, storageErr("autonomous usage", err)
	}
	return total, nil
}

// TryConsume atomically checks today's usage and records ev if it fits.
func (l *SQLLedger) TryConsume(ctx context.Context, ev models.UsageEvent, limit int64) (int64, error) {
	if ev.Service == "" {
		return 0, fmt.Errorf("consume: service is required")
	}
	ev = l.stamp(ev)

	m := l.lockFor(ev.Service)
	m.Lock()
	defer m.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("consume", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if l.dialect.lockStmt != "" {
		if _, err := tx.ExecContext(ctx, l.dialect.rebind(l.dialect.lockStmt), ev.Service); err != nil {
			return 0, storageErr("consume lock", err)
		}
	}

	used, err := l.sumToday(ctx, tx, ev.Service, ev.Date)
	if err != nil {
		return 0, storageErr("consume", err)
	}
	if used+ev.Amount > limit {
		return used, ErrLimitReached
	}
	if err := l.insertEvent(ctx, tx, ev); err != nil {
		return used, storageErr("consume", err)
	}
	if err := tx.Commit(); err != nil {
		return used, storageErr("consume commit", err)
	}
	return used + ev.Amount, nil
}

// RecordAllocation stores a budget grant.
func (l *SQLLedger) RecordAllocation(ctx context.Context, a models.BudgetAllocation) error {
	if a.AllocatedAt.IsZero() {
		a.AllocatedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(
		`INSERT INTO budget_allocations (service, amount, purpose, allocated_at) VALUES (?, ?, ?, ?)`),
		a.Service, a.Amount, a.Purpose, a.AllocatedAt.UTC(),
	)
	if err != nil {
		return storageErr("record allocation", err)
	}
	return nil
}

// Allocations lists grants for a service since a given time, newest first.
func (l *SQLLedger) Allocations(ctx context.Context, service string, since time.Time) ([]models.BudgetAllocation, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(
		`SELECT id, service, amount, purpose, allocated_at FROM budget_allocations
		 WHERE service = ? AND allocated_at >= ? ORDER BY allocated_at DESC`),
		service, since.UTC(),
	)
	if err != nil {
		return nil, storageErr("list allocations", err)
	}
	defer rows.Close()

	var out []models.BudgetAllocation
	for rows.Next() {
		var a models.BudgetAllocation
		if err := rows.Scan(&a.ID, &a.Service, &a.Amount, &a.Purpose, &a.AllocatedAt); err != nil {
			return nil, storageErr("scan allocation", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list allocations", err)
	}
	return out, nil
}

// RecordExecution stores the result of one task run.
func (l *SQLLedger) RecordExecution(ctx context.Context, r models.TaskExecutionResult) error {
	if r.ExecutedAt.IsZero() {
		r.ExecutedAt = l.now()
	}
	_, err := l.db.ExecContext(ctx, l.dialect.rebind(
		`INSERT INTO task_executions (task_name, prompts_used, items_processed, items_created, result, message, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.TaskName, r.PromptsUsed, r.ItemsProcessed, r.ItemsCreated, string(r.Outcome), r.Message, r.ExecutedAt.UTC(),
	)
	if err != nil {
		return storageErr("record execution", err)
	}
	return nil
}

// Executions lists task runs since a given time, newest first.
func (l *SQLLedger) Executions(ctx context.Context, since time.Time) ([]models.TaskExecutionResult, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(
		`SELECT id, task_name, prompts_used, items_processed, items_created, result, message, executed_at
		 FROM task_executions WHERE executed_at >= ? ORDER BY executed_at DESC, id DESC`),
		since.UTC(),
	)
	if err != nil {
		return nil, storageErr("list executions", err)
	}
	defer rows.Close()

	var out []models.TaskExecutionResult
	for rows.Next() {
		var r models.TaskExecutionResult
		var outcome string
		if err := rows.Scan(&r.ID, &r.TaskName, &r.PromptsUsed, &r.ItemsProcessed, &r.ItemsCreated, &outcome, &r.Message, &r.ExecutedAt); err != nil {
			return nil, storageErr("scan execution", err)
		}
		r.Outcome = models.Outcome(outcome)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list executions", err)
	}
	return out, nil
}

// RunsSince counts task runs per task name since a given time.
func (l *SQLLedger) RunsSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(
		`SELECT task_name, COUNT(*) FROM task_executions WHERE executed_at >= ? GROUP BY task_name`),
		since.UTC(),
	)
	if err != nil {
		return nil, storageErr("count runs", err)
	}
	defer rows.Close()

	runs := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, storageErr("scan runs", err)
		}
		runs[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("count runs", err)
	}
	return runs, nil
}

// Summary aggregates usage per service and day for the last n days.
func (l *SQLLedger) Summary(ctx context.Context, days int) ([]models.UsageSummary, error) {
	if days <= 0 {
		days = 1
	}
	cutoff := l.now().UTC().AddDate(0, 0, -days).Format(dateLayout)
	rows, err := l.db.QueryContext(ctx, l.dialect.rebind(
		`SELECT service, date, COUNT(*), SUM(prompt_count),
		        SUM(CASE WHEN task LIKE ? THEN prompt_count ELSE 0 END),
		        SUM(token_count), SUM(cost)
		 FROM usage_events WHERE date > ?
		 GROUP BY service, date ORDER BY date DESC, service`),
		models.AutonomousTaskPrefix+"%", cutoff,
	)
	if err != nil {
		return nil, storageErr("summary", err)
	}
	defer rows.Close()

	var out []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Service, &s.Date, &s.Events, &s.Prompts, &s.Autonomous, &s.Tokens, &s.Cost); err != nil {
			return nil, storageErr("scan summary", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("summary", err)
	}
	return out, nil
}

// Close releases the database connection.
func (l *SQLLedger) Close() error {
	return l.db.Close()
}

// Driver reports the backing database.
func (l *SQLLedger) Driver() string {
	return l.dialect.name
}
