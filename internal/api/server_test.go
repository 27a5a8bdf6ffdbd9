package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"stockalert/internal/config"
	"stockalert/internal/feed"
	"stockalert/internal/metrics"
	"stockalert/internal/models"
	"stockalert/internal/monitor"
	"stockalert/internal/resilience"
	"stockalert/internal/store"
)

type testServer struct {
	srv *Server
	mon *monitor.Monitor
}

func newTestServer(t *testing.T, journal store.Journal) *testServer {
	t.Helper()

	stocks := feed.SourceFunc{K: models.KindStock, Fn: func(ctx context.Context) ([]models.Entity, error) {
		return []models.Entity{
			{ID: "AAPL", Name: "Apple Inc.", Value: 149.5},
			{ID: "MSFT", Name: "Microsoft", Value: 410},
		}, nil
	}}
	currencies := feed.SourceFunc{K: models.KindCurrency, Fn: func(ctx context.Context) ([]models.Entity, error) {
		return []models.Entity{{ID: "USD", Name: "US Dollar", Value: 1.04}}, nil
	}}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mon := monitor.New(monitor.Config{Interval: time.Hour, FetchTimeout: time.Second}, monitor.Deps{
		Sources: []feed.Source{stocks, currencies},
		Journal: journal,
		Metrics: m,
		Logger:  zerolog.Nop(),
	})

	cfg := config.ServerConfig{Addr: "127.0.0.1:0", RequestsPerSec: 1000, Burst: 1000, RequestTimeout: 5 * time.Second}
	srv := NewServer(cfg, mon, Options{Journal: journal, Gatherer: reg, Metrics: m, Logger: zerolog.Nop()})
	return &testServer{srv: srv, mon: mon}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.srv.Router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %s: %v", w.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestHealthzReportsFeedHealth(t *testing.T) {
	failing := feed.SourceFunc{K: models.KindCurrency, Fn: func(ctx context.Context) ([]models.Entity, error) {
		return nil, errors.New("upstream down")
	}}
	hm := resilience.NewHealthMonitor(resilience.HealthMonitorConfig{UnhealthyAfter: 2})
	mon := monitor.New(monitor.Config{Interval: time.Hour, FetchTimeout: time.Second}, monitor.Deps{
		Sources: []feed.Source{failing},
		Health:  hm,
		Logger:  zerolog.Nop(),
	})
	srv := NewServer(config.ServerConfig{RequestTimeout: time.Second}, mon, Options{Logger: zerolog.Nop()})

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		return w
	}

	var body struct {
		Status string                       `json:"status"`
		Feeds  []resilience.ComponentHealth `json:"feeds"`
	}
	w := get()
	decode(t, w, &body)
	if w.Code != http.StatusOK || body.Status != string(resilience.HealthStatusUnknown) || len(body.Feeds) != 1 {
		t.Errorf("before any cycle: %d %+v", w.Code, body)
	}

	mon.RunCycle(context.Background())
	mon.RunCycle(context.Background())

	w = get()
	decode(t, w, &body)
	if w.Code != http.StatusServiceUnavailable || body.Status != string(resilience.HealthStatusUnhealthy) {
		t.Errorf("after failures: %d %+v", w.Code, body)
	}
	if body.Feeds[0].Name != "currency" || body.Feeds[0].ConsecutiveFailures != 2 {
		t.Errorf("feeds = %+v", body.Feeds)
	}
}

func TestArmAlert(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPut, "/api/v1/alerts/stock/AAPL", `{"threshold":"150"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var a models.Alert
	decode(t, w, &a)
	if a.Threshold != 150 || a.State != models.AlertArmed || a.Key.ID != "AAPL" {
		t.Errorf("alert = %+v", a)
	}

	// Numeric thresholds are accepted as well.
	w = ts.do(t, http.MethodPut, "/api/v1/alerts/currencies/USD", `{"threshold":1.05}`)
	if w.Code != http.StatusOK {
		t.Fatalf("numeric threshold status = %d body = %s", w.Code, w.Body.String())
	}
	if ts.mon.Registry().Len() != 2 {
		t.Errorf("registry has %d alerts, want 2", ts.mon.Registry().Len())
	}
}

func TestArmAlertRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"non-numeric threshold", "/api/v1/alerts/stock/AAPL", `{"threshold":"abc"}`, http.StatusBadRequest},
		{"missing threshold", "/api/v1/alerts/stock/AAPL", `{}`, http.StatusBadRequest},
		{"malformed body", "/api/v1/alerts/stock/AAPL", `{`, http.StatusBadRequest},
		{"unknown kind", "/api/v1/alerts/bond/X", `{"threshold":"1"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPut, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if ts.mon.Registry().Len() != 0 {
		t.Error("rejected input created an alert")
	}
}

func TestListRemoveAndClear(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPut, "/api/v1/alerts/stock/AAPL", `{"threshold":"150"}`)
	ts.do(t, http.MethodPut, "/api/v1/alerts/stock/MSFT", `{"threshold":"400"}`)
	ts.do(t, http.MethodPut, "/api/v1/alerts/currency/USD", `{"threshold":"1.05"}`)

	var list struct {
		Alerts []models.Alert `json:"alerts"`
		Stats  struct {
			Total int `json:"total"`
		} `json:"stats"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/v1/alerts", ""), &list)
	if len(list.Alerts) != 3 || list.Stats.Total != 3 || list.Alerts[0].Key.ID != "AAPL" {
		t.Fatalf("list = %+v", list)
	}

	if w := ts.do(t, http.MethodDelete, "/api/v1/alerts/stock/AAPL", ""); w.Code != http.StatusNoContent {
		t.Errorf("remove status = %d", w.Code)
	}
	// Removing an absent alert is not an error.
	if w := ts.do(t, http.MethodDelete, "/api/v1/alerts/stock/AAPL", ""); w.Code != http.StatusNoContent {
		t.Errorf("second remove status = %d", w.Code)
	}
	if ts.mon.Registry().Len() != 2 {
		t.Errorf("registry has %d alerts, want 2", ts.mon.Registry().Len())
	}

	if w := ts.do(t, http.MethodDelete, "/api/v1/alerts", ""); w.Code != http.StatusNoContent {
		t.Errorf("clear status = %d", w.Code)
	}
	if ts.mon.Registry().Len() != 0 {
		t.Error("alerts remain after clear")
	}
}

func TestRunCycleAndObservations(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPut, "/api/v1/alerts/stock/AAPL", `{"threshold":"150"}`)

	w := ts.do(t, http.MethodPost, "/api/v1/cycles", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cycle status = %d", w.Code)
	}
	var cycle struct {
		Kinds map[string]struct {
			Fetched   int            `json:"fetched"`
			Triggered []models.Alert `json:"triggered"`
		} `json:"kinds"`
	}
	decode(t, w, &cycle)
	if cycle.Kinds["stock"].Fetched != 2 || len(cycle.Kinds["stock"].Triggered) != 1 {
		t.Errorf("cycle = %+v", cycle)
	}

	var obs struct {
		Observations []models.Observation `json:"observations"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/v1/observations/stock?q=micro", ""), &obs)
	if len(obs.Observations) != 1 || obs.Observations[0].Key.ID != "MSFT" {
		t.Errorf("search = %+v", obs)
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/observations/bonds", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown kind status = %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	if w := ts.do(t, http.MethodGet, "/api/v1/history", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("history without journal status = %d", w.Code)
	}

	journal, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer journal.Close()

	ts = newTestServer(t, journal)
	ts.do(t, http.MethodPut, "/api/v1/alerts/stock/AAPL", `{"threshold":"150"}`)
	ts.do(t, http.MethodPut, "/api/v1/alerts/currency/USD", `{"threshold":"1.05"}`)
	ts.do(t, http.MethodPost, "/api/v1/cycles", "")

	var hist struct {
		Triggers []models.TriggerRecord `json:"triggers"`
	}
	decode(t, ts.do(t, http.MethodGet, "/api/v1/history?kind=currency", ""), &hist)
	if len(hist.Triggers) != 1 || hist.Triggers[0].Key.ID != "USD" {
		t.Errorf("history = %+v", hist)
	}

	if w := ts.do(t, http.MethodGet, "/api/v1/history?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/v1/cycles", "")

	w := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, name := range []string{"stockalert_cycles_total", "stockalert_fetch_total", "stockalert_http_requests_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	limited := NewServer(config.ServerConfig{RequestsPerSec: 0.001, Burst: 1}, ts.mon, Options{Logger: zerolog.Nop()})

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		limited.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want 200 then 429", codes)
	}
}

func TestManualCycleQueuedBehindScheduledCycle(t *testing.T) {
	started := make(chan struct{}, 1)
	slow := feed.SourceFunc{K: models.KindStock, Fn: func(ctx context.Context) ([]models.Entity, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-time.After(300 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []models.Entity{{ID: "AAPL", Name: "Apple Inc.", Value: 149.5}}, nil
	}}

	hm := resilience.NewHealthMonitor(resilience.HealthMonitorConfig{})
	mon := monitor.New(monitor.Config{Interval: time.Hour, FetchTimeout: 2 * time.Second}, monitor.Deps{
		Sources: []feed.Source{slow},
		Health:  hm,
		Logger:  zerolog.Nop(),
	})
	srv := NewServer(config.ServerConfig{RequestTimeout: 100 * time.Millisecond}, mon, Options{Logger: zerolog.Nop()})

	scheduled := make(chan struct{})
	go func() {
		defer close(scheduled)
		mon.RunCycle(context.Background())
	}()
	<-started

	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/cycles", nil))
	<-scheduled

	var cycle struct {
		Kinds map[string]struct {
			Fetched int    `json:"fetched"`
			Error   string `json:"error"`
		} `json:"kinds"`
	}
	decode(t, w, &cycle)
	if kr := cycle.Kinds["stock"]; kr.Error != "" || kr.Fetched != 1 {
		t.Errorf("manual cycle = %+v, want a clean fetch", kr)
	}
	if h, _ := hm.GetComponentHealth("stock"); h.Status != resilience.HealthStatusHealthy || h.ConsecutiveFailures != 0 {
		t.Errorf("feed health = %+v, want HEALTHY", h)
	}
}
