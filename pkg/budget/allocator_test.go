package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/dixie/pkg/config"
	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/notify"
)

type fakeGateway struct {
	approve bool
	block   bool
	asked   int
}

func (f *fakeGateway) Notify(context.Context, notify.Event) error { return nil }

func (f *fakeGateway) RequestApproval(ctx context.Context, _ string) (bool, error) {
	f.asked++
	if f.block {
		<-ctx.Done()
		return false, notify.ErrApprovalTimeout
	}
	return f.approve, nil
}

func at(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
}

func setup(t *testing.T, now time.Time) (*ledger.SQLLedger, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	l, err := ledger.NewSQLite(dbPath, ledger.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l, context.Background()
}

func prepaid(limit int64) map[string]models.ServiceProfile {
	return map[string]models.ServiceProfile{
		"claude": {Type: models.ServicePrepaid, DailyLimit: limit, DefaultMode: models.ModeAuto},
	}
}

func newAllocator(l ledger.Ledger, now time.Time, services map[string]models.ServiceProfile, gw notify.Gateway) *Allocator {
	return New(l, Options{
		Services:        services,
		Pressure:        config.Default().Pressure,
		Gateway:         gw,
		ApprovalTimeout: 50 * time.Millisecond,
		Now:             func() time.Time { return now },
	})
}

func TestRecommendHighUrgencyLateInDay(t *testing.T) {
	now := at(23)
	l, ctx := setup(t, now)
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 500})

	a := newAllocator(l, now, prepaid(2000), nil)
	rec, err := a.Recommend(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != models.ActionAllocate || rec.Urgency != models.UrgencyHigh || rec.Amount != 500 {
		t.Errorf("expected high-urgency allocation of 500, got %+v", rec)
	}
	if rec.Service != "claude" {
		t.Errorf("expected claude, got %q", rec.Service)
	}
}

func TestRecommendHoldWhenAheadOfPace(t *testing.T) {
	now := at(21)
	l, ctx := setup(t, now)
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 1900})

	a := newAllocator(l, now, prepaid(2000), nil)
	rec, err := a.Recommend(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Action != models.ActionHold {
		t.Errorf("expected hold, got %+v", rec)
	}
}

func TestRecommendCapsAmountAtRemaining(t *testing.T) {
	now := at(23)
	l, ctx := setup(t, now)
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 100})

	// Limit 400: pressure high, but only 300 remain.
	a := newAllocator(l, now, prepaid(400), nil)
	rec, _ := a.Recommend(ctx)
	if rec.Amount != 300 {
		t.Errorf("expected amount capped at 300, got %+v", rec)
	}
}

func TestRecommendRefusesAtLimit(t *testing.T) {
	now := at(23)
	l, ctx := setup(t, now)
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 2000})

	a := newAllocator(l, now, prepaid(2000), nil)
	rec, _ := a.Recommend(ctx)
	if rec.Actionable() {
		t.Errorf("expected no allocation at limit, got %+v", rec)
	}
}

func TestRecommendIgnoresManualAndPayPerUse(t *testing.T) {
	now := at(23)
	l, ctx := setup(t, now)
	services := map[string]models.ServiceProfile{
		"manual":  {Type: models.ServicePrepaid, DailyLimit: 2000, DefaultMode: models.ModeManual},
		"metered": {Type: models.ServicePayPerUse, CostPerCall: 0.01, DefaultMode: models.ModeAuto},
	}
	a := newAllocator(l, now, services, nil)
	rec, _ := a.Recommend(ctx)
	if rec.Action != models.ActionHold {
		t.Errorf("expected hold, got %+v", rec)
	}
}

func TestRecommendFailsClosedOnStorageError(t *testing.T) {
	now := at(23)
	l, ctx := setup(t, now)
	a := newAllocator(l, now, prepaid(2000), nil)
	l.Close()

	rec, err := a.Recommend(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ledger.ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
	if rec.Action != models.ActionHold {
		t.Errorf("expected hold on error, got %+v", rec)
	}
}

func TestStatusIdempotent(t *testing.T) {
	now := at(15)
	l, ctx := setup(t, now)
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 300})
	a := newAllocator(l, now, prepaid(2000), nil)

	s1, err := a.Status(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := a.Status(ctx, "claude")
	if s1 != s2 {
		t.Errorf("status changed without usage: %+v vs %+v", s1, s2)
	}
	if s1.Used != 300 || s1.Remaining != 1700 || s1.HoursRemaining != 9 {
		t.Errorf("unexpected status: %+v", s1)
	}

	if _, err := a.Status(ctx, "nope"); !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
}

func TestStatusStableWithinMinute(t *testing.T) {
	start := at(15).Add(10 * time.Second)
	l, ctx := setup(t, start)
	_ = l.Record(ctx, models.UsageEvent{Service: "claude", Amount: 300})

	ticks := 0
	a := New(l, Options{
		Services: prepaid(2000),
		Pressure: config.Default().Pressure,
		Now:      func() time.Time {
			ticks++
			return start.Add(time.Duration(ticks) * time.Second)
		},
	})

	s1, err := a.Status(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := a.Status(ctx, "claude")
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Errorf("status drifted between reads: %+v vs %+v", s1, s2)
	}
}

func TestRecommendReadsClockOnce(t *testing.T) {
	now := at(23)
	l, ctx := setup(t, now)
	calls := 0
	a := New(l, Options{
		Services: map[string]models.ServiceProfile{
			"claude": {Type: models.ServicePrepaid, DailyLimit: 2000, DefaultMode: models.ModeAuto},
			"gemini": {Type: models.ServicePrepaid, DailyLimit: 1000, DefaultMode: models.ModeAuto},
		},
		Pressure: config.Default().Pressure,
		Now:      func() time.Time {
			calls++
			return now
		},
	})
	if _, err := a.Recommend(ctx); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("clock read %d times, want 1", calls)
	}
}

func TestRequestApprovalPrepaidImmediate(t *testing.T) {
	l, ctx := setup(t, at(12))
	gw := &fakeGateway{}
	a := newAllocator(l, at(12), prepaid(2000), gw)
	if !a.RequestApproval(ctx, "claude", 500, "autonomous") {
		t.Error("prepaid should be approved")
	}
	if gw.asked != 0 {
		t.Error("prepaid should not ask the gateway")
	}
	if a.RequestApproval(ctx, "unknown", 1, "x") {
		t.Error("unknown service should be declined")
	}
}

func TestRequestApprovalTimeoutMeansNoSpend(t *testing.T) {
	now := at(12)
	l, ctx := setup(t, now)
	services := map[string]models.ServiceProfile{
		"metered": {Type: models.ServicePayPerUse, CostPerCall: 0.02, RequiresApproval: true, DefaultMode: models.ModeManual},
	}
	gw := &fakeGateway{block: true}
	a := newAllocator(l, now, services, gw)

	if a.RequestApproval(ctx, "metered", 100, "autonomous") {
		t.Fatal("timed-out approval must decline")
	}
	allocs, err := l.Allocations(ctx, "metered", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(allocs) != 0 {
		t.Errorf("expected no allocations, got %d", len(allocs))
	}
	used, _ := l.UsedToday(ctx, "metered")
	if used != 0 {
		t.Errorf("expected zero spend, got %d", used)
	}
}

func TestRequestApprovalGranted(t *testing.T) {
	now := at(12)
	l, ctx := setup(t, now)
	services := map[string]models.ServiceProfile{
		"metered": {Type: models.ServicePayPerUse, RequiresApproval: true, DefaultMode: models.ModeManual},
		"open":    {Type: models.ServicePayPerUse, DefaultMode: models.ModeManual},
	}
	gw := &fakeGateway{approve: true}
	a := newAllocator(l, now, services, gw)
	if !a.RequestApproval(ctx, "metered", 10, "x") {
		t.Error("expected approval")
	}
	if !a.RequestApproval(ctx, "open", 10, "x") {
		t.Error("expected approval without gateway")
	}
	if gw.asked != 1 {
		t.Errorf("expected one gateway call, got %d", gw.asked)
	}
}

func TestAllocateAndClose(t *testing.T) {
	now := at(12)
	l, ctx := setup(t, now)
	a := newAllocator(l, now, prepaid(2000), nil)

	if err := a.Allocate(ctx, "claude", 200, "autonomous"); err != nil {
		t.Fatal(err)
	}
	allocs, _ := l.Allocations(ctx, "claude", now.Add(-time.Hour))
	if len(allocs) != 1 || allocs[0].Amount != 200 {
		t.Errorf("unexpected allocations: %+v", allocs)
	}
	used, _ := l.UsedToday(ctx, "claude")
	if used != 0 {
		t.Errorf("allocation must not spend quota, used=%d", used)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Allocate(ctx, "claude", 1, "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
