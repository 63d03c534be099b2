package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/budget"
	"github.com/pario-ai/dixie/pkg/executor"
	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/tasks"
)

// Handler returns the control API router.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/status/{service}", s.handleServiceStatus)
		r.Get("/recommend", s.handleRecommend)
		r.Get("/cycles", s.handleCycles)
		r.Post("/run/{task}", s.handleRun)
		r.Post("/stop", s.handleStop)
	})
	return r
}

func (s *Service) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, budget.ErrUnknownService), errors.Is(err, executor.ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, executor.ErrDangerousTask):
		return http.StatusForbidden
	case errors.Is(err, executor.ErrCycleInProgress), errors.Is(err, executor.ErrNotEligible):
		return http.StatusConflict
	case errors.Is(err, executor.ErrDailyLimit):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus())
}

func (s *Service) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.planner.Status(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleRecommend(w http.ResponseWriter, r *http.Request) {
	rec, err := s.planner.Recommend(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleCycles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Cycles())
}

type runResponse struct {
	Result models.TaskExecutionResult `json:"result"`
	Error  string                     `json:"error,omitempty"`
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	allow, _ := strconv.ParseBool(q.Get("allow_dangerous"))
	res, err := s.runner.RunTask(r.Context(), chi.URLParam(r, "task"), executor.RunOptions{
		Service:        q.Get("service"),
		AllowDangerous: allow,
	})
	var execErr *tasks.ExecutionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, runResponse{Result: res})
	case errors.As(err, &execErr):
		writeJSON(w, http.StatusOK, runResponse{Result: res, Error: err.Error()})
	default:
		writeError(w, statusFor(err), err)
	}
}

func (s *Service) handleStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.runner.Stop()})
}
