// Package proxy meters interactive LLM traffic against a service's daily
// quota. Each completion request is charged one prompt in the ledger before
// it is forwarded; requests over a prepaid limit are refused.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/logger"
	"github.com/pario-ai/dixie/pkg/models"
)

// TaskLabel marks usage charged by the proxy.
const TaskLabel = "interactive:proxy"

// maxBody bounds how much of a request body is buffered to read the model.
const maxBody = 8 << 20

// meteredPaths are the completion endpoints charged per request.
var meteredPaths = map[string]bool{
	"/v1/chat/completions": true,
	"/v1/completions":      true,
	"/v1/messages":         true,
}

// Consumer is the ledger subset the proxy needs.
type Consumer interface {
	Record(ctx context.Context, ev models.UsageEvent) error
	TryConsume(ctx context.Context, ev models.UsageEvent, limit int64) (int64, error)
}

// Options configures a Server.
type Options struct {
	Upstream string
	APIKey   string
	Service  models.ServiceProfile
	Logger   *zap.Logger
}

// Server is the metering reverse proxy.
type Server struct {
	ledger  Consumer
	service models.ServiceProfile
	rp      *httputil.ReverseProxy
	log     *zap.Logger
}

// New creates a proxy Server.
func New(l Consumer, opts Options) (*Server, error) {
	target, err := url.Parse(opts.Upstream)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q", opts.Upstream)
	}
	if opts.Service.Name == "" {
		return nil, errors.New("proxy: service is required")
	}

	s := &Server{
		ledger:  l,
		service: opts.Service,
		log:     logger.OrNop(opts.Logger),
	}
	s.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if opts.APIKey != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+opts.APIKey)
				pr.Out.Header.Set("x-api-key", opts.APIKey)
			}
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn("upstream failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeJSONError(w, http.StatusBadGateway, "upstream unavailable")
		},
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && meteredPaths[r.URL.Path] {
		if !s.meter(w, r) {
			return
		}
	}
	s.rp.ServeHTTP(w, r)
}

// meter charges one prompt for r. It reports false after writing an error
// response.
func (s *Server) meter(w http.ResponseWriter, r *http.Request) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "read request body")
		return false
	}
	if len(body) > maxBody {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	var req struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &req)

	ev := models.UsageEvent{
		Service: s.service.Name,
		Model:   req.Model,
		Amount:  1,
		Cost:    s.service.CostPerCall,
		Task:    TaskLabel,
	}
	log := s.log.With(zap.String("service", ev.Service), zap.String("model", ev.Model))

	if s.service.Type != models.ServicePrepaid {
		if err := s.ledger.Record(r.Context(), ev); err != nil {
			log.Error("record usage", zap.Error(err))
			writeJSONError(w, http.StatusServiceUnavailable, "usage ledger unavailable")
			return false
		}
		return true
	}

	used, err := s.ledger.TryConsume(r.Context(), ev, s.service.DailyLimit)
	switch {
	case errors.Is(err, ledger.ErrLimitReached):
		log.Info("daily limit reached", zap.Int64("used", used), zap.Int64("limit", s.service.DailyLimit))
		w.Header().Set("Retry-After", retryAfter(s.service.Location()))
		writeJSONError(w, http.StatusTooManyRequests,
			fmt.Sprintf("daily limit of %d prompts reached for %s", s.service.DailyLimit, s.service.Name))
		return false
	case err != nil:
		log.Error("consume quota", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "usage ledger unavailable")
		return false
	}
	w.Header().Set("X-Dixie-Used-Today", fmt.Sprint(used))
	return true
}

// retryAfter is the number of seconds until the service's next local midnight.
func retryAfter(loc *time.Location) string {
	now := time.Now().In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
	return fmt.Sprint(int(next.Sub(now).Seconds()) + 1)
}

// ListenAndServe serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("proxy listening", zap.String("addr", addr), zap.String("service", s.service.Name))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": msg, "type": "dixie_error"},
	})
}
