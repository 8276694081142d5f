package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/leakybucket"
	realclientip "github.com/realclientip/realclientip-go"
)

var (
	defaultRejectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	})
)

func clientIP(strategy realclientip.Strategy, r *http.Request) string {
	if strategy == nil {
		return ""
	}

	clientIP := strategy.ClientIP(r.Header, r.RemoteAddr)

	// We don't want to include the zone in our limiter key
	clientIP, _ = realclientip.SplitHostZone(clientIP)

	return clientIP
}

// KeyFunc returns the bucket key of a request. Requests it cannot attribute
// (ok is false) pass through without charging any bucket.
type KeyFunc[TKey comparable] func(r *http.Request) (key TKey, ok bool)

type HTTPRateLimiter interface {
	Shutdown()
	RateLimit(next http.Handler) http.Handler
}

type httpRateLimiter[TKey comparable] struct {
	name          string
	rejected      http.Handler
	buckets       *leakybucket.Manager[TKey, leakybucket.ConstLeakyBucket[TKey], *leakybucket.ConstLeakyBucket[TKey]]
	cleanupCancel context.CancelFunc
	keyFunc       KeyFunc[TKey]
}

var _ HTTPRateLimiter = (*httpRateLimiter[string])(nil)

func newHTTPRateLimiter[TKey comparable](name string,
	buckets *leakybucket.Manager[TKey, leakybucket.ConstLeakyBucket[TKey], *leakybucket.ConstLeakyBucket[TKey]],
	keyFunc KeyFunc[TKey],
	rejected http.Handler) *httpRateLimiter[TKey] {
	if rejected == nil {
		rejected = defaultRejectedHandler
	}

	limiter := &httpRateLimiter[TKey]{
		name:     name,
		rejected: rejected,
		buckets:  buckets,
		keyFunc:  keyFunc,
	}

	var cancelCtx context.Context
	cancelCtx, limiter.cleanupCancel = context.WithCancel(
		context.WithValue(context.Background(), common.TraceIDContextKey, "cleanup_"+name+"_rate_limiter"))
	go limiter.cleanup(cancelCtx)

	return limiter
}

func (l *httpRateLimiter[TKey]) Shutdown() {
	l.cleanupCancel()
}

func (l *httpRateLimiter[TKey]) cleanup(ctx context.Context) {
	// don't over load server on start
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	common.ChunkedCleanup(ctx, 1*time.Second, 10*time.Second, 100 /*chunkSize*/, func(t time.Time, size int) int {
		return l.buckets.Cleanup(ctx, t, size, nil)
	})
}

func (l *httpRateLimiter[TKey]) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := l.keyFunc(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		addResult := l.buckets.Add(key, 1, time.Now())

		setRateLimitHeaders(w, addResult)

		ctx := context.WithValue(r.Context(), common.RateLimitKeyContextKey, key)

		if addResult.Added > 0 {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		slog.Log(ctx, common.LevelTrace, "Rate limiting request", "limiter", l.name, "path", r.URL.Path,
			"level", addResult.CurrLevel, "capacity", addResult.Capacity, "resetAfter", addResult.ResetAfter.String(),
			"retryAfter", addResult.RetryAfter.String(), "found", addResult.Found)
		l.rejected.ServeHTTP(w, r.WithContext(ctx))
	})
}

// setRateLimitHeaders overwrites headers of outer limiters so the response
// describes the innermost bucket that was charged
func setRateLimitHeaders(w http.ResponseWriter, addResult leakybucket.AddResult) {
	h := w.Header()

	if v := addResult.Capacity; v > 0 {
		h.Set("X-RateLimit-Limit", strconv.Itoa(int(v)))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(int(addResult.Remaining())))
	}

	if v := addResult.ResetAfter; v > 0 {
		vi := int(math.Max(1.0, v.Seconds()+0.5))
		h.Set("X-RateLimit-Reset", strconv.Itoa(vi))
	} else {
		h.Del("X-RateLimit-Reset")
	}

	if v := addResult.RetryAfter; v > 0 {
		vi := int(math.Max(1.0, v.Seconds()+0.5))
		h.Set("Retry-After", strconv.Itoa(vi))
	} else {
		h.Del("Retry-After")
	}
}
