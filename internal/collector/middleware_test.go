package collector

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func clientRequest(clientID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/collect", nil)
	if clientID != "" {
		req.Header.Set(HeaderClientID, clientID)
	}
	return req
}

func TestPerClientRateLimit_AllowsUnderLimit(t *testing.T) {
	cfg := RateLimitConfig{Enabled: true, PerClientRPS: 100, PerClientBurst: 100}
	h := PerClientRateLimit(cfg)(okHandler())

	for i := range 10 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, clientRequest("acme"))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
}

func TestPerClientRateLimit_ClientsIndependent(t *testing.T) {
	cfg := RateLimitConfig{Enabled: true, PerClientRPS: 1, PerClientBurst: 1}
	h := PerClientRateLimit(cfg)(okHandler())

	steps := []struct {
		client string
		want   int
	}{
		{"acme", http.StatusOK},
		{"globex", http.StatusOK},
		{"acme", http.StatusTooManyRequests},
		{"globex", http.StatusTooManyRequests},
	}
	for i, s := range steps {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, clientRequest(s.client))
		if rec.Code != s.want {
			t.Errorf("step %d (%s): status %d, want %d", i, s.client, rec.Code, s.want)
		}
	}
}

func TestPerClientRateLimit_NoClientPassesThrough(t *testing.T) {
	cfg := RateLimitConfig{Enabled: true, PerClientRPS: 1, PerClientBurst: 1}
	h := PerClientRateLimit(cfg)(okHandler())

	for i := range 10 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, clientRequest(""))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d without client id: status %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
}

func TestRateLimit_Global(t *testing.T) {
	cfg := RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}
	h := RateLimit(cfg)(okHandler())

	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, clientRequest("a"))
	if rec1.Code != http.StatusOK {
		t.Errorf("first request: status %d, want %d", rec1.Code, http.StatusOK)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, clientRequest("b"))
	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status %d, want %d", rec2.Code, http.StatusTooManyRequests)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	cfg := RateLimitConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1, PerClientRPS: 1, PerClientBurst: 1}
	h := Chain(okHandler(), RateLimit(cfg), PerClientRateLimit(cfg))

	for i := range 50 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, clientRequest("acme"))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d with rate limiting disabled: status %d", i, rec.Code)
		}
	}
}

func TestBodySizeLimit(t *testing.T) {
	tests := []struct {
		name string
		size int
		want int
	}{
		{"under limit", 50, http.StatusOK},
		{"exact limit", 100, http.StatusOK},
		{"over limit", 200, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := BodySizeLimit(100)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.ReadAll(r.Body); err != nil {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/collect", bytes.NewReader(bytes.Repeat([]byte("a"), tt.size)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequestID_GeneratedAndPreserved(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Error("request id missing from context")
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("response %s = %q, want %q", HeaderRequestID, rec.Header().Get(HeaderRequestID), seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-12345")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-12345" || rec.Header().Get(HeaderRequestID) != "req-12345" {
		t.Errorf("request id = %q, header = %q; want req-12345", seen, rec.Header().Get(HeaderRequestID))
	}
}

func TestRecovery_PanicRecovered(t *testing.T) {
	h := Recovery(slog.New(slog.NewTextHandler(io.Discard, nil)))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+"-before")
				next.ServeHTTP(w, r)
				order = append(order, name+"-after")
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mw("mw1"), mw("mw2"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestContentType_SetsJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	ContentType(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func preflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/collect", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return req
}

func TestCORS_PreflightAllowed(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins: []string{"https://shop.example.com"},
		AllowedHeaders: []string{"Content-Type", HeaderClientID, HeaderVisitorID},
		MaxAge:         600,
	}
	called := false
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight("https://shop.example.com"))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status %d, want %d", rec.Code, http.StatusNoContent)
	}
	if called {
		t.Error("preflight reached the next handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Client-Id, X-Visitor-Id" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("Max-Age = %q, want 600", got)
	}
}

func TestCORS_PreflightDisallowedOrigin(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"https://shop.example.com"}})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight("https://evil.example.com"))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status %d, want %d", rec.Code, http.StatusForbidden)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Allow-Origin set for a disallowed origin")
	}
}

func TestCORS_WildcardOnSimpleRequest(t *testing.T) {
	h := CORS(CORSConfig{AllowedOrigins: []string{"*"}})(okHandler())

	req := clientRequest("acme")
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestClientLimiters_PrunesIdleClients(t *testing.T) {
	c := newClientLimiters(1, 1)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < maxClients; i++ {
		c.get("client-"+strconv.Itoa(i), t0)
	}
	if len(c.entries) != maxClients {
		t.Fatalf("entries = %d, want %d", len(c.entries), maxClients)
	}

	c.get("fresh", t0.Add(clientIdleTime+time.Second))
	if len(c.entries) != 1 {
		t.Errorf("entries after prune = %d, want 1", len(c.entries))
	}
}
