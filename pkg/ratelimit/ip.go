package ratelimit

import (
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/devicegate/devicegate/pkg/leakybucket"
	realclientip "github.com/realclientip/realclientip-go"
)

const (
	maxIPBucketsToKeep = 1_000_000
	// burst of the shared bucket for requests we cannot attribute to an IP
	missingIPBucketCap = 2
)

func newClientIPStrategy(header string) realclientip.Strategy {
	if len(header) > 0 {
		return realclientip.Must(realclientip.NewSingleIPHeaderStrategy(header))
	}

	return realclientip.NewChainStrategy(
		realclientip.Must(realclientip.NewRightmostNonPrivateStrategy("X-Forwarded-For")),
		realclientip.RemoteAddrStrategy{})
}

func clientIPAddr(strategy realclientip.Strategy, r *http.Request) netip.Addr {
	ipStr := clientIP(strategy, r)
	if len(ipStr) == 0 {
		slog.WarnContext(r.Context(), "Empty IP address used for rate limiting")
		return netip.Addr{}
	}

	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to parse netip.Addr", "ip", ipStr, common.ErrAttr(err))
		return netip.Addr{}
	}

	return addr
}

// LeakInterval converts requests per second into the interval of leaking one unit
func LeakInterval(rps float64) time.Duration {
	if rps <= 0 {
		return time.Second
	}

	return time.Duration(float64(time.Second) / rps)
}

// NewIPAddrRateLimiter limits requests per client IP. With an empty header the
// rightmost non-private X-Forwarded-For address is used, then RemoteAddr.
// A nil rejected handler answers limited requests with a plain 429.
func NewIPAddrRateLimiter(header string, burst uint32, rps float64, rejected http.Handler) HTTPRateLimiter {
	strategy := newClientIPStrategy(header)
	leakInterval := LeakInterval(rps)

	buckets := leakybucket.NewManager[netip.Addr, leakybucket.ConstLeakyBucket[netip.Addr]](maxIPBucketsToKeep, burst, leakInterval)

	// we setup a separate bucket for "missing" IPs with empty key
	// with a different burst, assuming a misconfiguration on our side
	buckets.SetDefaultBucket(leakybucket.NewConstBucket(netip.Addr{}, missingIPBucketCap, leakInterval, time.Now()))

	keyFunc := func(r *http.Request) (netip.Addr, bool) {
		return clientIPAddr(strategy, r), true
	}

	return newHTTPRateLimiter("ip", buckets, keyFunc, rejected)
}
