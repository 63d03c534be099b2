package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/models"
)

func setupProxy(t *testing.T, upstream *httptest.Server, svc models.ServiceProfile, apiKey string) (*Server, *ledger.SQLLedger) {
	t.Helper()
	l, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "proxy.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	srv, err := New(l, Options{Upstream: upstream.URL, APIKey: apiKey, Service: svc})
	if err != nil {
		t.Fatal(err)
	}
	return srv, l
}

func prepaid(limit int64) models.ServiceProfile {
	return models.ServiceProfile{Name: "claude", Type: models.ServicePrepaid, DailyLimit: limit}
}

func post(srv http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer client-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestChatCompletionsMetered(t *testing.T) {
	var gotBody, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[]}`))
	}))
	defer upstream.Close()

	srv, l := setupProxy(t, upstream, prepaid(10), "sk-provider")

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	w := post(srv, "/v1/chat/completions", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotBody != body {
		t.Errorf("upstream body = %q, want %q", gotBody, body)
	}
	if gotAuth != "Bearer sk-provider" {
		t.Errorf("upstream auth = %q, want provider key", gotAuth)
	}
	if w.Header().Get("X-Dixie-Used-Today") != "1" {
		t.Errorf("used header = %q, want 1", w.Header().Get("X-Dixie-Used-Today"))
	}

	used, err := l.UsedToday(context.Background(), "claude")
	if err != nil {
		t.Fatal(err)
	}
	if used != 1 {
		t.Errorf("used = %d, want 1", used)
	}
	auto, _ := l.AutonomousUsedToday(context.Background(), "claude")
	if auto != 0 {
		t.Errorf("autonomous = %d, want 0", auto)
	}
}

func TestLimitReached(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	srv, l := setupProxy(t, upstream, prepaid(2), "")
	if err := l.Record(context.Background(), models.UsageEvent{Service: "claude", Amount: 2, Task: "interactive"}); err != nil {
		t.Fatal(err)
	}

	w := post(srv, "/v1/messages", `{"model":"claude-sonnet"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if calls != 0 {
		t.Errorf("upstream called %d times, want 0", calls)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.Error.Message, "daily limit") {
		t.Errorf("unexpected error message: %s", body.Error.Message)
	}
}

func TestPassthroughNotMetered(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	srv, l := setupProxy(t, upstream, prepaid(10), "")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	used, _ := l.UsedToday(context.Background(), "claude")
	if used != 0 {
		t.Errorf("used = %d, want 0", used)
	}
}

func TestPayPerUseRecordsCost(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	svc := models.ServiceProfile{Name: "openai", Type: models.ServicePayPerUse, CostPerCall: 0.02}
	srv, l := setupProxy(t, upstream, svc, "")

	for range 3 {
		if w := post(srv, "/v1/chat/completions", `{"model":"gpt-4o"}`); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
	rows, err := l.Summary(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Prompts != 3 {
		t.Fatalf("summary = %+v, want 3 prompts on openai", rows)
	}
}

func TestUpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv, _ := setupProxy(t, upstream, prepaid(10), "")
	upstream.Close()

	w := post(srv, "/v1/chat/completions", `{"model":"gpt-4o"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, Options{Upstream: "not a url", Service: prepaid(1)}); err == nil {
		t.Error("expected error for bad upstream")
	}
	if _, err := New(nil, Options{Upstream: "https://api.example.com"}); err == nil {
		t.Error("expected error for missing service")
	}
}
