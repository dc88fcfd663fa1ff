package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"audiocache/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type recordingMetrics struct {
	metrics.Noop
	mu          sync.Mutex
	requests    []string
	rateLimited map[string]int
}

func (m *recordingMetrics) ObserveRequest(method, route, status string, durationSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, method+" "+route+" "+status)
}

func (m *recordingMetrics) IncRateLimited(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rateLimited == nil {
		m.rateLimited = map[string]int{}
	}
	m.rateLimited[route]++
}

func TestCORS_AllowAll(t *testing.T) {
	corsHandler := CORS(CORSConfig{})(okHandler)

	req := httptest.NewRequest("GET", "/download", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec := httptest.NewRecorder()

	corsHandler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected *, got %q", got)
	}
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	corsHandler := CORS(CORSConfig{
		AllowedOrigins: []string{"https://player.example.com", "https://localhost:3000"},
	})(okHandler)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/download", nil)
		req.Header.Set("Origin", "https://player.example.com")
		rec := httptest.NewRecorder()

		corsHandler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://player.example.com" {
			t.Errorf("expected https://player.example.com, got %q", got)
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/download", nil)
		req.Header.Set("Origin", "https://evil.com")
		rec := httptest.NewRecorder()

		corsHandler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected empty, got %q", got)
		}
	})

	t.Run("audio is always public", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/audios/dQw4w9WgXcQ.mp3", nil)
		req.Header.Set("Origin", "https://evil.com")
		rec := httptest.NewRecorder()

		corsHandler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected *, got %q", got)
		}
	})

	t.Run("preflight request", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/download", nil)
		req.Header.Set("Origin", "https://player.example.com")
		rec := httptest.NewRecorder()

		corsHandler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for preflight, got %d", rec.Code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	gate := NewGate(map[Route]Budget{
		RouteExtract: {Requests: 3, Window: time.Hour},
		RouteServe:   {Requests: 2, Window: time.Hour},
	}, Budget{Requests: 100, Window: time.Second})
	m := &recordingMetrics{}
	limited := RateLimit(gate, m)(okHandler)

	t.Run("first N pass and N+1 is rejected", func(t *testing.T) {
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest("GET", "/download?videoUrl=x", nil)
			req.RemoteAddr = "10.0.0.1:12345"
			rec := httptest.NewRecorder()

			limited.ServeHTTP(rec, req)

			if i < 3 && rec.Code != http.StatusOK {
				t.Errorf("request %d: expected 200, got %d", i, rec.Code)
			}
			if i == 3 {
				if rec.Code != http.StatusTooManyRequests {
					t.Fatalf("request %d: expected 429, got %d", i, rec.Code)
				}
				var resp errorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
					t.Errorf("expected JSON error body, got %q", rec.Body.String())
				}
				if rec.Header().Get("Retry-After") != "3600" {
					t.Errorf("expected Retry-After 3600, got %q", rec.Header().Get("Retry-After"))
				}
			}
		}
		if m.rateLimited["extract"] != 1 {
			t.Errorf("expected one rate-limited extract, got %v", m.rateLimited)
		}
	})

	t.Run("serve route has its own budget", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest("GET", "/audios/dQw4w9WgXcQ.mp3", nil)
			req.RemoteAddr = "10.0.0.1:12345"
			rec := httptest.NewRecorder()

			limited.ServeHTTP(rec, req)

			want := http.StatusOK
			if i == 2 {
				want = http.StatusTooManyRequests
			}
			if rec.Code != want {
				t.Errorf("request %d: expected %d, got %d", i, want, rec.Code)
			}
		}
	})

	t.Run("uses X-Forwarded-For header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/download?videoUrl=x", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
		rec := httptest.NewRecorder()

		limited.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("metrics endpoint is exempt", func(t *testing.T) {
		exempt := RateLimit(NewGate(nil, Budget{Requests: 1, Window: time.Hour}), metrics.Noop{})(okHandler)
		for i := 0; i < 5; i++ {
			req := httptest.NewRequest("GET", "/metrics", nil)
			rec := httptest.NewRecorder()
			exempt.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
			}
		}
	})
}

func TestRecover(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("something broke")
	})

	req := httptest.NewRequest("GET", "/download", nil)
	rec := httptest.NewRecorder()
	Recover(panicking).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if resp.Error != "internal server error" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestRecover_AfterResponseStarted(t *testing.T) {
	partial := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("ID3"))
		panic("reader failed mid-copy")
	})

	rec := httptest.NewRecorder()
	Recover(partial).ServeHTTP(rec, httptest.NewRequest("GET", "/audios/dQw4w9WgXcQ.mp3", nil))

	if rec.Code != http.StatusPartialContent {
		t.Errorf("expected the original 206 to stand, got %d", rec.Code)
	}
	if rec.Body.String() != "ID3" {
		t.Errorf("expected no error JSON after partial body, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type changed to %q", ct)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := &recordingMetrics{}
	h := Metrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/nope" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/", "/download", "/audios/x.mp3", "/search", "/nope"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	want := []string{
		"GET root 200",
		"GET extract 200",
		"GET serve 200",
		"GET search 200",
		"GET other 404",
	}
	if len(m.requests) != len(want) {
		t.Fatalf("expected %d observations, got %v", len(want), m.requests)
	}
	for i := range want {
		if m.requests[i] != want[i] {
			t.Errorf("observation %d: got %q, want %q", i, m.requests[i], want[i])
		}
	}
}

func TestLogger_PassesThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", rec.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{12 * time.Second, 12},
		{2500 * time.Millisecond, 3},
		{time.Millisecond, 1},
		{0, 1},
	}
	for _, tc := range tests {
		if got := retryAfterSeconds(tc.wait); got != tc.want {
			t.Errorf("retryAfterSeconds(%s) = %d, want %d", tc.wait, got, tc.want)
		}
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr only", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"X-Forwarded-For single", "127.0.0.1:80", "203.0.113.50", "", "203.0.113.50"},
		{"X-Forwarded-For chain", "127.0.0.1:80", "203.0.113.50, 70.41.3.18", "", "203.0.113.50"},
		{"X-Real-IP", "127.0.0.1:80", "", "203.0.113.100", "203.0.113.100"},
		{"X-Forwarded-For takes precedence", "127.0.0.1:80", "1.2.3.4", "5.6.7.8", "1.2.3.4"},
		{"IPv6", "[::1]:8080", "", "", "::1"},
		{"no port", "10.1.1.1", "", "", "10.1.1.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}

			got := extractIP(req)
			if got != tc.want {
				t.Errorf("extractIP() = %q, want %q", got, tc.want)
			}
		})
	}
}
