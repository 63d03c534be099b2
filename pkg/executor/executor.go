// Package executor runs admitted background tasks within a granted budget.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/logger"
	"github.com/pario-ai/dixie/pkg/metrics"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/notify"
	"github.com/pario-ai/dixie/pkg/tasks"
)

var (
	// ErrCycleInProgress is returned when a cycle or manual run is already active.
	ErrCycleInProgress = errors.New("cycle already in progress")
	// ErrNotEligible is returned by RunTask when the task's eligibility check fails.
	ErrNotEligible = errors.New("task not eligible")
	// ErrDangerousTask is returned by RunTask for a Dangerous task without AllowDangerous.
	ErrDangerousTask = errors.New("dangerous task requires --allow-dangerous")
	// ErrDailyLimit is returned when a task's estimate would exceed the daily limit.
	ErrDailyLimit = errors.New("daily limit would be exceeded")
	// ErrUsageNotRecorded is fatal: the ledger no longer reflects real usage.
	ErrUsageNotRecorded = errors.New("usage not recorded")
	// ErrUnknownService is returned for a service the allocator does not know.
	ErrUnknownService = errors.New("unknown service")
	// ErrBudgetOverrun marks a task that reported more prompts than the cycle had left.
	ErrBudgetOverrun = errors.New("budget overrun")
)

// State is the executor's position in a cycle.
type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateExecuting
	StateReporting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateExecuting:
		return "executing"
	case StateReporting:
		return "reporting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Allocator is the subset of the budget allocator the executor needs.
type Allocator interface {
	Profile(service string) (models.ServiceProfile, bool)
	RequestApproval(ctx context.Context, service string, amount int64, purpose string) bool
	Allocate(ctx context.Context, service string, amount int64, purpose string) error
}

// Options configures an Executor.
type Options struct {
	Enabled bool
	// Service is used by RunTask when no service is given.
	Service         string
	MaxSafety       models.SafetyLevel
	MaxAutonomous   int64
	Style           models.NotificationStyle
	ApprovalTimeout time.Duration
	Gateway         notify.Gateway
	Now             func() time.Time
	Logger          *zap.Logger
}

// Executor is a single sequencer: at most one cycle or manual run is active.
type Executor struct {
	registry        *tasks.Registry
	ledger          ledger.Ledger
	alloc           Allocator
	enabled         bool
	service         string
	maxSafety       models.SafetyLevel
	maxAutonomous   int64
	strategy        StyleStrategy
	gateway         notify.Gateway
	approvalTimeout time.Duration
	now             func() time.Time
	log             *zap.Logger

	running atomic.Bool
	stop    atomic.Bool
	state   atomic.Int32
}

// New creates an Executor.
func New(reg *tasks.Registry, l ledger.Ledger, alloc Allocator, opts Options) *Executor {
	e := &Executor{
		registry:        reg,
		ledger:          l,
		alloc:           alloc,
		enabled:         opts.Enabled,
		service:         opts.Service,
		maxSafety:       opts.MaxSafety,
		maxAutonomous:   opts.MaxAutonomous,
		strategy:        StrategyFor(opts.Style),
		gateway:         opts.Gateway,
		approvalTimeout: opts.ApprovalTimeout,
		now:             opts.Now,
		log:             logger.OrNop(opts.Logger),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.approvalTimeout <= 0 {
		e.approvalTimeout = 2 * time.Minute
	}
	if e.maxSafety == 0 {
		e.maxSafety = models.SafetySafe
	}
	return e
}

// Enabled reports whether recommendations are acted on.
func (e *Executor) Enabled() bool { return e.enabled }

// State reports the current cycle state.
func (e *Executor) State() State { return State(e.state.Load()) }

// Running reports whether a cycle or manual run is active.
func (e *Executor) Running() bool { return e.running.Load() }

// Stop asks the active cycle to finish after the current task. It reports
// whether anything was running.
func (e *Executor) Stop() bool {
	if !e.running.Load() {
		return false
	}
	e.stop.Store(true)
	e.log.Info("stop requested")
	return true
}

func (e *Executor) acquire() bool {
	if !e.running.CompareAndSwap(false, true) {
		return false
	}
	e.stop.Store(false)
	return true
}

func (e *Executor) release() {
	e.state.Store(int32(StateIdle))
	e.running.Store(false)
}

func (e *Executor) setState(s State) { e.state.Store(int32(s)) }

// ProcessRecommendation acts on an allocator recommendation. It is a no-op
// returning a nil report when the executor is disabled, the recommendation
// holds, or approval is not granted.
func (e *Executor) ProcessRecommendation(ctx context.Context, rec models.Recommendation) (*CycleReport, error) {
	if !e.enabled {
		e.log.Debug("executor disabled; ignoring recommendation")
		return nil, nil
	}
	if !rec.Actionable() {
		return nil, nil
	}
	if !e.acquire() {
		return nil, ErrCycleInProgress
	}
	defer e.release()

	if !e.strategy.Gate(ctx, e, rec) {
		return nil, nil
	}
	if !e.alloc.RequestApproval(ctx, rec.Service, rec.Amount, "autonomous") {
		e.log.Info("allocation not approved", zap.String("service", rec.Service), zap.Int64("amount", rec.Amount))
		return nil, nil
	}
	if err := e.alloc.Allocate(ctx, rec.Service, rec.Amount, "autonomous"); err != nil {
		return nil, fmt.Errorf("process recommendation: %w", err)
	}

	rep, err := e.cycle(ctx, rec.Service, rec.Amount, rec.Urgency)
	e.strategy.Report(ctx, e, rep)
	return rep, err
}

// ExecuteWithBudget runs one cycle against service with the given budget.
func (e *Executor) ExecuteWithBudget(ctx context.Context, service string, budget int64, urgency models.Urgency) (*CycleReport, error) {
	if !e.acquire() {
		return nil, ErrCycleInProgress
	}
	defer e.release()
	return e.cycle(ctx, service, budget, urgency)
}

func (e *Executor) cycle(ctx context.Context, service string, budget int64, urgency models.Urgency) (*CycleReport, error) {
	rep := &CycleReport{
		ID:        uuid.NewString(),
		Service:   service,
		Budget:    budget,
		Urgency:   urgency,
		StartedAt: e.now(),
	}
	log := e.log.With(zap.String("cycle_id", rep.ID), zap.String("service", service))
	ctx = logger.WithLogger(ctx, log)
	start := time.Now()
	defer func() {
		rep.FinishedAt = e.now()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	halt := func(err error) (*CycleReport, error) {
		rep.Error = err.Error()
		log.Error("cycle halted", zap.Error(err))
		return rep, err
	}

	profile, ok := e.alloc.Profile(service)
	if !ok {
		return halt(fmt.Errorf("cycle %s: %w", service, ErrUnknownService))
	}

	e.setState(StateSelecting)
	if e.maxAutonomous > 0 {
		auto, err := e.ledger.AutonomousUsedToday(ctx, service)
		if err != nil {
			return halt(err)
		}
		if left := e.maxAutonomous - auto; left < budget {
			budget = max(left, 0)
			rep.Budget = budget
			rep.CapReached = true
		}
	}
	runs, err := e.ledger.RunsSince(ctx, e.ledger.Today(service))
	if err != nil {
		return halt(err)
	}
	tc := &tasks.Context{Service: service, Budget: budget, Urgency: urgency, Log: log}
	sel := e.registry.Select(ctx, tasks.SelectRequest{
		Budget:    budget,
		Urgency:   urgency,
		MaxSafety: e.maxSafety,
		RunsToday: runs,
		Context:   tc,
	})
	rep.Skipped = sel.Skipped
	rep.Deferred = append(rep.Deferred, sel.Deferred...)
	log.Info("tasks selected", zap.Int("selected", len(sel.Tasks)), zap.Int("skipped", len(sel.Skipped)), zap.Int64("budget", budget))

	e.setState(StateExecuting)
	var used int64
	for i, t := range sel.Tasks {
		def := t.Definition()
		if e.stop.Load() {
			rep.Stopped = true
			rep.deferRest(sel.Tasks[i:])
			break
		}
		if used+def.EstimatedCost > budget {
			rep.deferRest(sel.Tasks[i:])
			break
		}
		if profile.Type == models.ServicePrepaid {
			today, err := e.ledger.UsedToday(ctx, service)
			if err != nil {
				rep.Used = used
				return halt(err)
			}
			if today+def.EstimatedCost > profile.DailyLimit {
				rep.LimitReached = true
				rep.deferRest(sel.Tasks[i:])
				break
			}
		}

		res := e.runTask(ctx, t, &tasks.Context{Service: service, Budget: budget - used, Urgency: urgency, Log: log})
		used += res.PromptsUsed
		rep.Results = append(rep.Results, res)
		if err := e.record(ctx, service, models.AutonomousTaskPrefix, res); err != nil {
			rep.Used = used
			return halt(err)
		}
		if used > budget {
			rep.Overrun = true
			metrics.BudgetOverruns.Inc()
			log.Warn("budget overrun",
				zap.Error(ErrBudgetOverrun),
				zap.String("task", def.Name),
				zap.Int64("used", used),
				zap.Int64("budget", budget),
			)
			rep.deferRest(sel.Tasks[i+1:])
			break
		}
	}
	rep.Used = used

	e.setState(StateReporting)
	log.Info("cycle finished", zap.String("summary", rep.Summary()), zap.Int64("used", used))
	return rep, nil
}

// runTask executes t, converting errors and panics into a failed result.
// The reported PromptsUsed is kept in every case.
func (e *Executor) runTask(ctx context.Context, t tasks.Task, tc *tasks.Context) (res models.TaskExecutionResult) {
	def := t.Definition()
	log := tc.Logger().With(zap.String("task", def.Name))
	defer func() {
		if r := recover(); r != nil {
			// Usage before the panic is unknown; charge the estimate.
			res = models.TaskExecutionResult{
				PromptsUsed: def.EstimatedCost,
				Outcome:     models.OutcomeFailed,
				Message:     fmt.Sprintf("panic: %v", r),
			}
			execErr := &tasks.ExecutionError{Task: def.Name, PromptsUsed: res.PromptsUsed, Err: fmt.Errorf("panic: %v", r)}
			log.Error("task panicked", zap.Error(execErr))
		}
		res.TaskName = def.Name
		if res.PromptsUsed < 0 {
			res.PromptsUsed = 0
		}
		if res.ExecutedAt.IsZero() {
			res.ExecutedAt = e.now()
		}
		metrics.TaskRuns.WithLabelValues(def.Name, string(res.Outcome)).Inc()
		metrics.TaskPrompts.WithLabelValues(def.Name).Add(float64(res.PromptsUsed))
	}()

	res, err := t.Execute(ctx, tc)
	if err != nil {
		execErr := &tasks.ExecutionError{Task: def.Name, PromptsUsed: res.PromptsUsed, Err: err}
		res.Outcome = models.OutcomeFailed
		res.Message = err.Error()
		log.Warn("task failed", zap.Error(execErr))
		return res
	}
	if res.Outcome == "" {
		res.Outcome = models.OutcomeSuccess
	}
	log.Info("task finished",
		zap.String("outcome", string(res.Outcome)),
		zap.Int64("prompts_used", res.PromptsUsed),
		zap.Int("items_created", res.ItemsCreated),
	)
	return res
}

// record writes a task's usage and result. Failure is fatal to the cycle.
func (e *Executor) record(ctx context.Context, service, prefix string, res models.TaskExecutionResult) error {
	if res.PromptsUsed > 0 {
		err := e.ledger.Record(ctx, models.UsageEvent{
			Service:   service,
			Amount:    res.PromptsUsed,
			Task:      prefix + res.TaskName,
			CreatedAt: e.now(),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUsageNotRecorded, err)
		}
	}
	if err := e.ledger.RecordExecution(ctx, res); err != nil {
		return fmt.Errorf("%w: %w", ErrUsageNotRecorded, err)
	}
	return nil
}

// RunOptions controls a manual run.
type RunOptions struct {
	Service        string
	AllowDangerous bool
}

// RunTask runs one task on direct user request, bypassing selection. It is
// the only path to Dangerous tasks. A failed task yields a
// *tasks.ExecutionError alongside its result.
func (e *Executor) RunTask(ctx context.Context, name string, opts RunOptions) (models.TaskExecutionResult, error) {
	t, ok := e.registry.Get(name)
	if !ok {
		return models.TaskExecutionResult{}, fmt.Errorf("run %s: %w", name, tasks.ErrTaskNotFound)
	}
	def := t.Definition()
	if def.Safety == models.SafetyDangerous && !opts.AllowDangerous {
		return models.TaskExecutionResult{}, fmt.Errorf("run %s: %w", name, ErrDangerousTask)
	}

	service := opts.Service
	if service == "" {
		service = e.service
	}
	profile, ok := e.alloc.Profile(service)
	if !ok {
		return models.TaskExecutionResult{}, fmt.Errorf("run %s on %q: %w", name, service, ErrUnknownService)
	}

	if !e.acquire() {
		return models.TaskExecutionResult{}, ErrCycleInProgress
	}
	defer e.release()

	log := e.log.With(zap.String("service", service), zap.Bool("manual", true))
	tc := &tasks.Context{Service: service, Budget: def.EstimatedCost, Urgency: models.UrgencyHigh, Log: log}

	eligible, err := t.ShouldRun(ctx, tc)
	if err != nil {
		return models.TaskExecutionResult{}, fmt.Errorf("run %s: eligibility check: %w", name, err)
	}
	if !eligible {
		return models.TaskExecutionResult{}, fmt.Errorf("run %s: %w", name, ErrNotEligible)
	}
	if profile.Type == models.ServicePrepaid {
		used, err := e.ledger.UsedToday(ctx, service)
		if err != nil {
			return models.TaskExecutionResult{}, err
		}
		if used+def.EstimatedCost > profile.DailyLimit {
			return models.TaskExecutionResult{}, fmt.Errorf("run %s: %w", name, ErrDailyLimit)
		}
	}

	e.setState(StateExecuting)
	res := e.runTask(ctx, t, tc)
	if err := e.record(ctx, service, "manual:", res); err != nil {
		return res, err
	}
	if res.Outcome == models.OutcomeFailed {
		return res, &tasks.ExecutionError{Task: name, PromptsUsed: res.PromptsUsed, Err: errors.New(res.Message)}
	}
	return res, nil
}

func (e *Executor) notify(ctx context.Context, ev notify.Event) {
	if e.gateway == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	if err := e.gateway.Notify(ctx, ev); err != nil {
		e.log.Warn("notification dropped", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (e *Executor) notifyCompletion(ctx context.Context, rep *CycleReport) {
	if rep == nil {
		return
	}
	e.notify(ctx, notify.Event{Type: notify.EventCompletion, Summary: rep.Summary(), Payload: rep})
}
