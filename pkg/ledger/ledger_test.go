package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pario-ai/dixie/pkg/models"
)

func newTestLedger(t *testing.T, opts ...Option) *SQLLedger {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	l, err := NewSQLite(dbPath, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestRecordAndUsedToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	l := newTestLedger(t, fixedClock(now))
	ctx := context.Background()

	for i := range 3 {
		if err := l.Record(ctx, models.UsageEvent{Service: "claude", Amount: int64(10 * (i + 1))}); err != nil {
			t.Fatal(err)
		}
	}
	_ = l.Record(ctx, models.UsageEvent{Service: "other", Amount: 99})

	used, err := l.UsedToday(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if used != 60 {
		t.Errorf("expected 60, got %d", used)
	}
}

func TestUsedTodayIgnoresYesterday(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	l := newTestLedger(t, fixedClock(now))
	ctx := context.Background()

	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 500, CreatedAt: now.Add(-24 * time.Hour)})
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 5, CreatedAt: now})

	used, err := l.UsedToday(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if used != 5 {
		t.Errorf("expected 5, got %d", used)
	}
}

func TestUsedTodayUsesServiceTimezone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 16:00 UTC on the 10th is 01:00 on the 11th in Tokyo.
	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	l := newTestLedger(t, fixedClock(now), WithLocations(map[string]*time.Location{"claude": tokyo}))
	ctx := context.Background()

	// 14:00 UTC is 23:00 on the 10th in Tokyo.
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 100, CreatedAt: now.Add(-2 * time.Hour)})
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 7, CreatedAt: now})

	used, err := l.UsedToday(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if used != 7 {
		t.Errorf("expected 7, got %d", used)
	}
	if got := l.Today("claude"); !got.Equal(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)) {
		t.Errorf("Today = %v", got)
	}
}

func TestRecordRejectsInvalid(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	if err := l.Record(ctx, models.UsageEvent{Amount: 1}); err == nil {
		t.Error("expected error for missing service")
	}
	if err := l.Record(ctx, models.UsageEvent{Service: "x", Amount: -1}); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestStorageErrorAfterClose(t *testing.T) {
	l := newTestLedger(t)
	_ = l.Close()

	_, err := l.UsedToday(context.Background(), "claude")
	if err == nil {
		t.Fatal("expected error from closed ledger")
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "used today" {
		t.Errorf("expected StorageError with op, got %#v", err)
	}
}

func TestAutonomousUsedToday(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 30, Task: "autonomous:suggest_acquisitions"})
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 12, Task: "interactive"})

	got, err := l.AutonomousUsedToday(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
}

func TestTryConsume(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	used, err := l.TryConsume(ctx, models.UsageEvent{Service: "claude", Amount: 80}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if used != 80 {
		t.Errorf("expected 80, got %d", used)
	}

	used, err = l.TryConsume(ctx, models.UsageEvent{Service: "claude", Amount: 30}, 100)
	if !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}
	if used != 80 {
		t.Errorf("expected usage to stay 80, got %d", used)
	}

	total, _ := l.UsedToday(ctx, "claude")
	if total != 80 {
		t.Errorf("rejected debit was recorded: %d", total)
	}
}

func TestTryConsumeConcurrentNeverExceedsLimit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const limit = 100
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.TryConsume(ctx, models.UsageEvent{Service: "claude", Amount: 7}, limit)
		}()
	}
	wg.Wait()

	used, err := l.UsedToday(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if used > limit {
		t.Errorf("usage %d exceeds limit %d", used, limit)
	}
	if used != 98 {
		t.Errorf("expected 14 debits of 7 (98), got %d", used)
	}
}

func TestConcurrentRecordIsLossless(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 3}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	used, _ := l.UsedToday(ctx, "claude")
	if used != 60 {
		t.Errorf("expected 60, got %d", used)
	}
}

func TestAllocations(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	if err := l.RecordAllocation(ctx, models.BudgetAllocation{Service: "claude", Amount: 200, Purpose: "autonomous"}); err != nil {
		t.Fatal(err)
	}
	allocs, err := l.Allocations(ctx, "claude", start)
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 1 || allocs[0].Amount != 200 || allocs[0].Purpose != "autonomous" {
		t.Errorf("unexpected allocations: %+v", allocs)
	}
}

func TestExecutionsAndRuns(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)

	for _, r := range []models.TaskExecutionResult{
		{TaskName: "a", PromptsUsed: 10, Outcome: models.OutcomeSuccess},
		{TaskName: "a", PromptsUsed: 4, Outcome: models.OutcomeFailed, Message: "boom"},
		{TaskName: "b", PromptsUsed: 1, Outcome: models.OutcomePartial},
	} {
		if err := l.RecordExecution(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	execs, err := l.Executions(ctx, start)
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(execs))
	}
	if execs[0].TaskName != "b" || execs[0].Outcome != models.OutcomePartial {
		t.Errorf("expected newest first, got %+v", execs[0])
	}

	runs, err := l.RunsSince(ctx, start)
	if err != nil {
		t.Fatal(err)
	}
	if runs["a"] != 2 || runs["b"] != 1 {
		t.Errorf("unexpected runs: %v", runs)
	}
}

func TestSummary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 10, TokenCount: 100, Task: "autonomous:x"})
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 5, TokenCount: 50})

	sums, err := l.Summary(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(sums))
	}
	s := sums[0]
	if s.Events != 2 || s.Prompts != 15 || s.Autonomous != 10 || s.Tokens != 150 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Error("expected error for unknown driver")
	}
}
