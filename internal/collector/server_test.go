package collector

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SebastienMelki/pixel/internal/dedup"
	"github.com/SebastienMelki/pixel/internal/observability"
	"github.com/SebastienMelki/pixel/internal/store"
)

type testEnv struct {
	server *Server
	store  *store.Store
	obs    *observability.Module
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "collector.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	obs, err := observability.New("collector-test")
	if err != nil {
		t.Fatalf("observability.New() error = %v", err)
	}
	t.Cleanup(func() { obs.Shutdown(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	filter := dedup.New(dedup.Config{Window: time.Minute, Capacity: 10000, FPRate: 0.0001}, logger)

	srv, err := NewServer(cfg, st, filter, obs, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testEnv{server: srv, store: st, obs: obs}
}

func (e *testEnv) post(t *testing.T, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/collect", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

var pixelHeaders = map[string]string{
	HeaderClientID:  "acme",
	HeaderVisitorID: "visitor-1",
}

const twoEvents = `[
	{"id":"e1","name":"page_view","payload":{"path":"/pricing","nested":{"a":1}},"created_at":"2024-06-15T14:30:00.123Z","alteration_id":"variant-b"},
	{"id":"e2","name":"click","payload":{},"created_at":"2024-06-15T14:30:01.000+02:00"}
]`

func decodeCollect(t *testing.T, rec *httptest.ResponseRecorder) CollectResponse {
	t.Helper()
	var resp CollectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestCollect_StoresBatch(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.post(t, twoEvents, pixelHeaders)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if got := decodeCollect(t, rec); got != (CollectResponse{Accepted: 2}) {
		t.Errorf("response = %+v, want 2 accepted", got)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("response missing request id")
	}

	rows, err := env.store.List(context.Background(), time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("stored %d rows, want 2", len(rows))
	}

	r := rows[0]
	if r.EventID != "e1" || r.ClientID != "acme" || r.VisitorID != "visitor-1" || r.AlterationID != "variant-b" {
		t.Errorf("row = %+v", r)
	}
	if r.PayloadJSON != `{"path":"/pricing","nested":{"a":1}}` {
		t.Errorf("PayloadJSON = %s", r.PayloadJSON)
	}
	want := time.Date(2024, 6, 15, 14, 30, 0, 123_000_000, time.UTC)
	if !r.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", r.CreatedAt, want)
	}
	if r.RequestID != rec.Header().Get(HeaderRequestID) {
		t.Errorf("RequestID = %q, want response id", r.RequestID)
	}
	if !rows[1].CreatedAt.Equal(time.Date(2024, 6, 15, 12, 30, 1, 0, time.UTC)) {
		t.Errorf("offset timestamp not normalized: %v", rows[1].CreatedAt)
	}
}

func TestCollect_RetriedBatchIsDeduplicated(t *testing.T) {
	env := newTestEnv(t, nil)

	env.post(t, twoEvents, pixelHeaders)
	rec := env.post(t, twoEvents, pixelHeaders)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	if got := decodeCollect(t, rec); got != (CollectResponse{Duplicates: 2}) {
		t.Errorf("response = %+v, want 2 duplicates", got)
	}
	if n, _ := env.store.Count(context.Background()); n != 2 {
		t.Errorf("stored %d rows, want 2", n)
	}
}

func TestCollect_StoreCatchesRepeatsWithoutFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.filter = nil

	env.post(t, twoEvents, pixelHeaders)
	rec := env.post(t, twoEvents, pixelHeaders)

	if got := decodeCollect(t, rec); got != (CollectResponse{Duplicates: 2}) {
		t.Errorf("response = %+v, want 2 duplicates", got)
	}
}

func TestCollect_SameIDDifferentClient(t *testing.T) {
	env := newTestEnv(t, nil)

	env.post(t, twoEvents, pixelHeaders)
	rec := env.post(t, twoEvents, map[string]string{HeaderClientID: "globex", HeaderVisitorID: "v"})

	if got := decodeCollect(t, rec); got.Accepted != 2 {
		t.Errorf("response = %+v, want 2 accepted for another client", got)
	}
}

func TestCollect_RejectsMalformedEvents(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `[
		{"id":"ok","name":"a","created_at":"2024-06-15T14:30:00.000Z"},
		{"id":"no-name","created_at":"2024-06-15T14:30:00.000Z"},
		{"id":"bad-time","name":"b","created_at":"yesterday"}
	]`
	rec := env.post(t, body, pixelHeaders)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	if got := decodeCollect(t, rec); got != (CollectResponse{Accepted: 1, Rejected: 2}) {
		t.Errorf("response = %+v, want 1 accepted 2 rejected", got)
	}

	rows, _ := env.store.List(context.Background(), time.Time{}, 0)
	if len(rows) != 1 || rows[0].PayloadJSON != "{}" {
		t.Errorf("rows = %+v, want one row with empty payload", rows)
	}
}

func TestCollect_RequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers map[string]string
		want    int
		wantMsg string
	}{
		{"missing client id", twoEvents, map[string]string{HeaderVisitorID: "v"}, http.StatusBadRequest, ErrClientIDRequired.Error()},
		{"missing visitor id", twoEvents, map[string]string{HeaderClientID: "c"}, http.StatusBadRequest, ErrVisitorIDRequired.Error()},
		{"not json", "hello", pixelHeaders, http.StatusBadRequest, ErrInvalidBody.Error()},
		{"object not array", `{"name":"a"}`, pixelHeaders, http.StatusBadRequest, ErrInvalidBody.Error()},
		{"empty array", `[]`, pixelHeaders, http.StatusBadRequest, ErrEmptyBatch.Error()},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post(t, tt.body, tt.headers)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
			var e errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error != tt.wantMsg {
				t.Errorf("error body = %q, want %q", rec.Body.String(), tt.wantMsg)
			}
		})
	}
}

func TestCollect_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBodyBytes = 64 })

	rec := env.post(t, twoEvents, pixelHeaders)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestCollect_BatchTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxBatchEvents = 1 })

	rec := env.post(t, twoEvents, pixelHeaders)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestCollect_StoreFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.Close()

	rec := env.post(t, twoEvents, pixelHeaders)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestCollect_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collect", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestCollect_PerClientRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 1000,
			BurstSize:         1000,
			PerClientRPS:      1,
			PerClientBurst:    1,
		}
	})

	if rec := env.post(t, twoEvents, pixelHeaders); rec.Code != http.StatusAccepted {
		t.Fatalf("first request status %d", rec.Code)
	}
	if rec := env.post(t, twoEvents, pixelHeaders); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want %d", rec.Code, http.StatusOK)
	}

	env.store.Close()
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status after close %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.post(t, twoEvents, pixelHeaders)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	body := rec.Body.String()
	for _, name := range []string{"collector.events.accepted", "http.request.total"} {
		if !strings.Contains(body, strings.ReplaceAll(name, ".", "_")) && !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
	if !strings.Contains(body, `route="POST /collect"`) {
		t.Error("/metrics missing the collect route label")
	}
}

func TestServer_StartShutdown(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Addr = "127.0.0.1:0" })

	errCh := make(chan error, 1)
	go func() { errCh <- env.server.Start() }()

	// Shutdown may race Start's listen; either way Start must return nil.
	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}
}

func TestNewServer_RequiresStore(t *testing.T) {
	if _, err := NewServer(DefaultConfig(), nil, nil, nil, nil); err == nil {
		t.Error("NewServer(nil store) error = nil")
	}
}
