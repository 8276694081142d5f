package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func doRequest(handler http.Handler, target, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestIPRateLimiter(t *testing.T) {
	t.Parallel()

	limiter := NewIPAddrRateLimiter("" /*header*/, 2 /*burst*/, 0.001 /*rps*/, nil /*rejected*/)
	defer limiter.Shutdown()

	handler := limiter.RateLimit(okHandler)

	for i := 0; i < 2; i++ {
		if w := doRequest(handler, "/download", "1.2.3.4:1234", nil); w.Code != http.StatusOK {
			t.Fatalf("Unexpected status code at request %v: %v", i, w.Code)
		}
	}

	w := doRequest(handler, "/download", "1.2.3.4:5678", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Unexpected status code: %v", w.Code)
	}

	if w.Header().Get("Retry-After") == "" {
		t.Errorf("Retry-After header is missing")
	}

	if w.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("Unexpected limit header: %v", w.Header().Get("X-RateLimit-Limit"))
	}

	if w := doRequest(handler, "/download", "5.6.7.8:1234", nil); w.Code != http.StatusOK {
		t.Errorf("Other IP was limited: %v", w.Code)
	}
}

func TestIPRateLimiterHeader(t *testing.T) {
	t.Parallel()

	const header = "X-Real-Ip"
	limiter := NewIPAddrRateLimiter(header, 1 /*burst*/, 0.001 /*rps*/, nil /*rejected*/)
	defer limiter.Shutdown()

	handler := limiter.RateLimit(okHandler)

	if w := doRequest(handler, "/", "10.0.0.1:1234", map[string]string{header: "9.9.9.9"}); w.Code != http.StatusOK {
		t.Fatalf("Unexpected status code: %v", w.Code)
	}

	// same proxy, different client
	if w := doRequest(handler, "/", "10.0.0.1:1234", map[string]string{header: "8.8.8.8"}); w.Code != http.StatusOK {
		t.Errorf("Unexpected status code: %v", w.Code)
	}

	if w := doRequest(handler, "/", "10.0.0.2:1234", map[string]string{header: "9.9.9.9"}); w.Code != http.StatusTooManyRequests {
		t.Errorf("Unexpected status code: %v", w.Code)
	}
}

// accepts requests that carry sig=ok
func testVerifier(r *http.Request) (string, bool) {
	query := r.URL.Query()
	return query.Get("uid"), query.Get("sig") == "ok"
}

func TestUIDRateLimiter(t *testing.T) {
	t.Parallel()

	buckets := NewUIDBuckets(100, 2, time.Hour)
	limiter := NewUIDRateLimiter(buckets, testVerifier, nil /*rejected*/)
	defer limiter.Shutdown()

	handler := limiter.RateLimit(okHandler)

	// same user from different addresses shares the bucket
	addrs := []string{"1.1.1.1:1", "2.2.2.2:2"}
	for _, addr := range addrs {
		if w := doRequest(handler, "/download?uid=alice&zone=1&sig=ok", addr, nil); w.Code != http.StatusOK {
			t.Fatalf("Unexpected status code: %v", w.Code)
		}
	}

	w := doRequest(handler, "/download?uid=alice&zone=2&sig=ok", "3.3.3.3:3", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Unexpected status code: %v", w.Code)
	}

	if w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("Unexpected remaining header: %v", w.Header().Get("X-RateLimit-Remaining"))
	}

	if w := doRequest(handler, "/download?uid=bob&zone=1&sig=ok", "1.1.1.1:1", nil); w.Code != http.StatusOK {
		t.Errorf("Other user was limited: %v", w.Code)
	}

	if buckets.Len() != 2 {
		t.Errorf("Unexpected buckets count: %v", buckets.Len())
	}
}

func TestUIDRateLimiterSkipsUnverified(t *testing.T) {
	t.Parallel()

	buckets := NewUIDBuckets(100, 1, time.Hour)
	limiter := NewUIDRateLimiter(buckets, testVerifier, nil /*rejected*/)
	defer limiter.Shutdown()

	handler := limiter.RateLimit(okHandler)

	for i := 0; i < 5; i++ {
		w := doRequest(handler, "/download?uid=alice&zone=1&sig=forged", "6.6.6.6:1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Unverified request %v was limited: %v", i, w.Code)
		}

		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Errorf("Unverified request was charged")
		}
	}

	if buckets.Len() != 0 {
		t.Errorf("Unexpected buckets count: %v", buckets.Len())
	}

	if w := doRequest(handler, "/download?uid=alice&zone=1&sig=ok", "1.1.1.1:1", nil); w.Code != http.StatusOK {
		t.Errorf("Verified request was limited: %v", w.Code)
	}
}

func TestRejectedHandler(t *testing.T) {
	t.Parallel()

	var rejectedUID string
	rejected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rejectedUID, _ = r.Context().Value(common.RateLimitKeyContextKey).(string)
		w.WriteHeader(http.StatusTeapot)
	})

	limiter := NewUIDRateLimiter(NewUIDBuckets(100, 1, time.Hour), testVerifier, rejected)
	defer limiter.Shutdown()

	handler := limiter.RateLimit(okHandler)

	if w := doRequest(handler, "/download?uid=alice&sig=ok", "1.1.1.1:1", nil); w.Code != http.StatusOK {
		t.Fatalf("Unexpected status code: %v", w.Code)
	}

	if w := doRequest(handler, "/download?uid=alice&sig=ok", "1.1.1.1:1", nil); w.Code != http.StatusTeapot {
		t.Errorf("Unexpected status code: %v", w.Code)
	}

	if rejectedUID != "alice" {
		t.Errorf("Unexpected rejected key: %q", rejectedUID)
	}
}

func TestLeakInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rps      float64
		expected time.Duration
	}{
		{2, 500 * time.Millisecond},
		{0.5, 2 * time.Second},
		{0, time.Second},
	}

	for _, tc := range tests {
		if actual := LeakInterval(tc.rps); actual != tc.expected {
			t.Errorf("Unexpected interval for %v rps: %v", tc.rps, actual)
		}
	}
}
