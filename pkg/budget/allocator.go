// Package budget turns ledger usage into spending recommendations and
// gates spending on pay-per-use services behind human approval.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/config"
	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/metrics"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/notify"
	"github.com/pario-ai/dixie/pkg/pressure"
)

var (
	// ErrUnknownService is returned for a service with no profile.
	ErrUnknownService = errors.New("unknown service")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("allocator closed")
)

// Options configures an Allocator.
type Options struct {
	Services        map[string]models.ServiceProfile
	Pressure        config.PressureConfig
	Gateway         notify.Gateway
	ApprovalTimeout time.Duration
	Now             func() time.Time
	Logger          *zap.Logger
}

// Allocator computes budget status and recommendations from the ledger.
// It is advisory: it never starts execution itself.
type Allocator struct {
	ledger   ledger.Ledger
	services map[string]models.ServiceProfile
	names    []string
	bands    config.PressureConfig
	gateway  notify.Gateway
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates an Allocator over the given ledger.
func New(l ledger.Ledger, opts Options) *Allocator {
	a := &Allocator{
		ledger:   l,
		services: make(map[string]models.ServiceProfile, len(opts.Services)),
		bands:    opts.Pressure,
		gateway:  opts.Gateway,
		timeout:  opts.ApprovalTimeout,
		now:      opts.Now,
		log:      opts.Logger,
	}
	for name, svc := range opts.Services {
		svc.Name = name
		a.services[name] = svc
		a.names = append(a.names, name)
	}
	sort.Strings(a.names)
	if a.now == nil {
		a.now = time.Now
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.timeout <= 0 {
		a.timeout = 2 * time.Minute
	}
	return a
}

// Profile returns the configured profile for a service.
func (a *Allocator) Profile(service string) (models.ServiceProfile, bool) {
	svc, ok := a.services[service]
	return svc, ok
}

// Services returns configured service names in sorted order.
func (a *Allocator) Services() []string {
	return append([]string(nil), a.names...)
}

// Status returns the service's quota position. It only reads.
func (a *Allocator) Status(ctx context.Context, service string) (models.BudgetStatus, error) {
	return a.statusAt(ctx, service, a.now())
}

// statusAt computes status at minute resolution so reads within the same
// minute agree.
func (a *Allocator) statusAt(ctx context.Context, service string, at time.Time) (models.BudgetStatus, error) {
	svc, ok := a.services[service]
	if !ok {
		return models.BudgetStatus{}, fmt.Errorf("status %s: %w", service, ErrUnknownService)
	}
	used, err := a.ledger.UsedToday(ctx, service)
	if err != nil {
		return models.BudgetStatus{}, fmt.Errorf("budget status: %w", err)
	}

	local := at.In(svc.Location())
	hour := float64(local.Hour()) + float64(local.Minute())/60

	st := models.BudgetStatus{
		Service:        service,
		Used:           used,
		HoursRemaining: pressure.HoursRemaining(hour),
	}
	if svc.Type == models.ServicePrepaid {
		st.Limit = svc.DailyLimit
		st.Remaining = max(svc.DailyLimit-used, 0)
		st.Pressure = pressure.Pressure(used, svc.DailyLimit, hour)
	}
	return st, nil
}

// band maps pressure to an urgency and grant. ok is false for Hold.
func (a *Allocator) band(p float64) (models.Urgency, int64, bool) {
	switch {
	case p > a.bands.High:
		return models.UrgencyHigh, a.bands.Amounts.High, true
	case p > a.bands.Moderate:
		return models.UrgencyModerate, a.bands.Amounts.Moderate, true
	case p > a.bands.Low:
		return models.UrgencyLow, a.bands.Amounts.Low, true
	}
	return 0, 0, false
}

// Recommend advises whether to hand budget to the executor. Only prepaid
// services in auto mode are considered; the one with the highest pressure
// wins. Any ledger failure yields Hold together with the error.
func (a *Allocator) Recommend(ctx context.Context) (models.Recommendation, error) {
	best := models.Hold("no service under pressure")
	now := a.now()
	for _, name := range a.names {
		svc := a.services[name]
		if svc.Type != models.ServicePrepaid || svc.DefaultMode != models.ModeAuto {
			continue
		}
		st, err := a.statusAt(ctx, name, now)
		if err != nil {
			metrics.Recommendations.WithLabelValues(string(models.ActionHold), "").Inc()
			return models.Hold("ledger unavailable"), err
		}
		metrics.Pressure.WithLabelValues(name).Set(st.Pressure)
		metrics.UsedToday.WithLabelValues(name).Set(float64(st.Used))

		if st.Used >= st.Limit {
			continue
		}
		urgency, amount, ok := a.band(st.Pressure)
		if !ok {
			continue
		}
		amount = min(amount, st.Remaining)
		if amount <= 0 || st.Pressure <= best.Pressure {
			continue
		}
		best = models.Recommendation{
			Action:   models.ActionAllocate,
			Service:  name,
			Amount:   amount,
			Urgency:  urgency,
			Pressure: st.Pressure,
			Reason:   fmt.Sprintf("%d of %d used with %.1fh left", st.Used, st.Limit, st.HoursRemaining),
		}
	}

	urgency := ""
	if best.Actionable() {
		urgency = best.Urgency.String()
	}
	metrics.Recommendations.WithLabelValues(string(best.Action), urgency).Inc()
	a.log.Debug("recommendation",
		zap.String("action", string(best.Action)),
		zap.String("service", best.Service),
		zap.Int64("amount", best.Amount),
		zap.Float64("pressure", best.Pressure),
	)
	return best, nil
}

// RequestApproval reports whether spending amount on service may proceed.
// Prepaid services are pre-approved. Pay-per-use services that require
// approval ask the gateway and treat a timeout or error as a decline.
func (a *Allocator) RequestApproval(ctx context.Context, service string, amount int64, purpose string) bool {
	svc, ok := a.services[service]
	if !ok {
		return false
	}
	switch svc.Type {
	case models.ServicePrepaid:
		return true
	case models.ServicePayPerUse:
		if !svc.RequiresApproval {
			return true
		}
		prompt := fmt.Sprintf("Spend %d calls (~$%.2f) on %s for %s?", amount, float64(amount)*svc.CostPerCall, service, purpose)
		approved := notify.Approve(ctx, a.gateway, prompt, a.timeout, a.log)
		a.log.Info("approval result", zap.String("service", service), zap.Int64("amount", amount), zap.Bool("approved", approved))
		return approved
	}
	return false
}

// Allocate records a budget grant. It does not spend quota.
func (a *Allocator) Allocate(ctx context.Context, service string, amount int64, purpose string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.inflight.Add(1)
	a.mu.Unlock()
	defer a.inflight.Done()

	if _, ok := a.services[service]; !ok {
		return fmt.Errorf("allocate %s: %w", service, ErrUnknownService)
	}
	err := a.ledger.RecordAllocation(ctx, models.BudgetAllocation{
		Service:     service,
		Amount:      amount,
		Purpose:     purpose,
		AllocatedAt: a.now(),
	})
	if err != nil {
		return fmt.Errorf("allocate: %w", err)
	}
	return nil
}

// Close rejects new allocations and waits for in-flight ones to be recorded.
func (a *Allocator) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.inflight.Wait()
	return nil
}
