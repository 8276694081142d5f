package ratelimit

import (
	"net/http"
	"time"

	"github.com/devicegate/devicegate/pkg/leakybucket"
)

const (
	maxUIDBucketsToKeep = 100_000
	// a single user gets 10 gated requests with a refill of one per 6 seconds
	UIDBucketCap    = 10
	UIDLeakInterval = 6 * time.Second
)

// UIDVerifier returns the uid of a request only if the request proves that
// it holds a valid link for it
type UIDVerifier func(r *http.Request) (uid string, ok bool)

type StringBuckets = leakybucket.Manager[string, leakybucket.ConstLeakyBucket[string], *leakybucket.ConstLeakyBucket[string]]

func NewUIDBuckets(maxBuckets int, bucketCap uint32, leakInterval time.Duration) *StringBuckets {
	return leakybucket.NewManager[string, leakybucket.ConstLeakyBucket[string]](maxBuckets, bucketCap, leakInterval)
}

// NewUIDRateLimiter limits gated requests per user so that one shared link
// cannot hammer the device registry from many addresses. Only requests
// accepted by verify are charged, the rest pass through untouched.
func NewUIDRateLimiter(buckets *StringBuckets, verify UIDVerifier, rejected http.Handler) HTTPRateLimiter {
	if buckets == nil {
		buckets = NewUIDBuckets(maxUIDBucketsToKeep, UIDBucketCap, UIDLeakInterval)
	}

	keyFunc := func(r *http.Request) (string, bool) {
		uid, ok := verify(r)
		if !ok || len(uid) == 0 {
			return "", false
		}

		return uid, true
	}

	return newHTTPRateLimiter("uid", buckets, keyFunc, rejected)
}
