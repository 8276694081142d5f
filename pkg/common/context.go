package common

type ContextKey int

const (
	TraceIDContextKey      ContextKey = iota
	RateLimitKeyContextKey ContextKey = iota
)
