// Package daemon drives the allocator and executor on a schedule and serves
// the control API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/executor"
	"github.com/pario-ai/dixie/pkg/logger"
	"github.com/pario-ai/dixie/pkg/metrics"
	"github.com/pario-ai/dixie/pkg/models"
)

// Planner produces recommendations and per-service status.
type Planner interface {
	Recommend(ctx context.Context) (models.Recommendation, error)
	Status(ctx context.Context, service string) (models.BudgetStatus, error)
}

// Runner executes recommendations and manual runs.
type Runner interface {
	ProcessRecommendation(ctx context.Context, rec models.Recommendation) (*executor.CycleReport, error)
	RunTask(ctx context.Context, name string, opts executor.RunOptions) (models.TaskExecutionResult, error)
	Stop() bool
	State() executor.State
	Running() bool
}

// Config controls the daemon runtime behavior.
type Config struct {
	Addr         string
	Interval     time.Duration
	CyclesBuffer int
}

// Status is served at /v1/status.
type Status struct {
	StartedAt    time.Time `json:"started_at"`
	LastTickAt   time.Time `json:"last_tick_at"`
	IntervalSec  int       `json:"interval_sec"`
	TickCount    int64     `json:"tick_count"`
	SkippedTicks int64     `json:"skipped_ticks"`
	State        string    `json:"state"`
	LastAction   string    `json:"last_action,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	CycleCount   int       `json:"cycle_count"`
}

// Service is the periodic driver plus HTTP API.
type Service struct {
	cfg     Config
	planner Planner
	runner  Runner
	log     *zap.Logger

	mu         sync.RWMutex
	startedAt  time.Time
	lastTickAt time.Time
	tickCount  int64
	skipped    int64
	lastAction string
	lastError  string
	cycles     []executor.CycleReport

	ticks sync.WaitGroup
}

// New returns a daemon service.
func New(cfg Config, planner Planner, runner Runner, log *zap.Logger) *Service {
	if cfg.Interval < time.Second {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.CyclesBuffer < 1 {
		cfg.CyclesBuffer = 50
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8474"
	}
	return &Service{
		cfg:       cfg,
		planner:   planner,
		runner:    runner,
		log:       logger.OrNop(log),
		startedAt: time.Now(),
	}
}

// Run serves the API and ticks until ctx is canceled. On shutdown the
// active cycle is asked to stop and awaited.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.log.Info("daemon started", zap.String("addr", s.cfg.Addr), zap.Duration("interval", s.cfg.Interval))

	s.spawnTick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.runner.Stop()
			s.ticks.Wait()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.log.Info("daemon stopping")
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.spawnTick(ctx)
		case err := <-errCh:
			s.runner.Stop()
			s.ticks.Wait()
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

func (s *Service) spawnTick(ctx context.Context) {
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		s.Tick(ctx)
	}()
}

// Tick asks for a recommendation and hands it to the executor. A tick that
// arrives while a cycle is still running is skipped.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	s.tickCount++
	s.lastTickAt = time.Now()
	s.mu.Unlock()

	if s.runner.Running() {
		s.skip()
		return
	}

	rec, err := s.planner.Recommend(ctx)
	if err != nil {
		s.fail("recommend", err)
		return
	}
	s.mu.Lock()
	s.lastAction = string(rec.Action)
	s.mu.Unlock()

	rep, err := s.runner.ProcessRecommendation(ctx, rec)
	if errors.Is(err, executor.ErrCycleInProgress) {
		s.skip()
		return
	}
	if rep != nil {
		s.pushCycle(*rep)
	}
	if err != nil {
		s.fail("cycle", err)
		return
	}
	s.mu.Lock()
	s.lastError = ""
	s.mu.Unlock()
}

func (s *Service) skip() {
	metrics.SkippedTicks.Inc()
	s.mu.Lock()
	s.skipped++
	s.mu.Unlock()
	s.log.Info("tick skipped; cycle in progress")
}

func (s *Service) fail(op string, err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
	s.log.Error("tick failed", zap.String("op", op), zap.Error(err))
}

func (s *Service) pushCycle(rep executor.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, rep)
	if len(s.cycles) > s.cfg.CyclesBuffer {
		s.cycles = s.cycles[len(s.cycles)-s.cfg.CyclesBuffer:]
	}
}

// Cycles returns the retained cycle reports, oldest first.
func (s *Service) Cycles() []executor.CycleReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]executor.CycleReport, len(s.cycles))
	copy(out, s.cycles)
	return out
}

func (s *Service) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		StartedAt:    s.startedAt,
		LastTickAt:   s.lastTickAt,
		IntervalSec:  int(s.cfg.Interval.Seconds()),
		TickCount:    s.tickCount,
		SkippedTicks: s.skipped,
		State:        s.runner.State().String(),
		LastAction:   s.lastAction,
		LastError:    s.lastError,
		CycleCount:   len(s.cycles),
	}
}
