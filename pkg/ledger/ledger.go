// Package ledger is the durable, append-only record of quota consumption,
// budget allocations and task executions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/dixie/pkg/models"
)

// ErrStorage matches every persistence failure returned by a Ledger.
var ErrStorage = errors.New("ledger storage failure")

// ErrLimitReached is returned by TryConsume when the debit would exceed the limit.
var ErrLimitReached = errors.New("daily limit reached")

// StorageError wraps a failed persistence operation. Callers must never
// treat it as zero usage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorage) hold for every StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Ledger records and queries quota usage.
type Ledger interface {
	// Record durably appends a usage event before returning.
	Record(ctx context.Context, ev models.UsageEvent) error
	// UsedToday sums prompts consumed by a service in its current local day.
	UsedToday(ctx context.Context, service string) (int64, error)
	// AutonomousUsedToday sums prompts charged by background tasks today.
	AutonomousUsedToday(ctx context.Context, service string) (int64, error)
	// TryConsume records ev only if today's usage plus ev.Amount stays within
	// limit, and returns the usage after the debit.
	TryConsume(ctx context.Context, ev models.UsageEvent, limit int64) (int64, error)
	// RecordAllocation stores a budget grant.
	RecordAllocation(ctx context.Context, a models.BudgetAllocation) error
	// Allocations lists grants for a service since a given time.
	Allocations(ctx context.Context, service string, since time.Time) ([]models.BudgetAllocation, error)
	// RecordExecution stores the result of one task run.
	RecordExecution(ctx context.Context, r models.TaskExecutionResult) error
	// Executions lists task runs since a given time, newest first.
	Executions(ctx context.Context, since time.Time) ([]models.TaskExecutionResult, error)
	// RunsSince counts task runs per task name since a given time.
	RunsSince(ctx context.Context, since time.Time) (map[string]int, error)
	// Summary aggregates usage per service and day for the last n days.
	Summary(ctx context.Context, days int) ([]models.UsageSummary, error)
	// Today returns the start of the service's current local day.
	Today(service string) time.Time
	// Close releases resources.
	Close() error
}

// Option configures a SQL-backed ledger.
type Option func(*SQLLedger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *SQLLedger) { l.now = now }
}

// WithLocations sets the timezone used for each service's calendar day.
// Services not in the map use UTC.
func WithLocations(locs map[string]*time.Location) Option {
	return func(l *SQLLedger) {
		for k, v := range locs {
			l.locs[k] = v
		}
	}
}

// Open creates a ledger for the named driver: "sqlite" (default) or "postgres".
func Open(driver, dsn string, opts ...Option) (*SQLLedger, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLite(dsn, opts...)
	case "postgres":
		return NewPostgres(dsn, opts...)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}
