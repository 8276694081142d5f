package common

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/justinas/alice"
)

var (
	epoch = time.Unix(0, 0).UTC().Format(http.TimeFormat)
	// taken from chi, which took it fron nginx
	NoCacheHeaders = map[string]string{
		"Expires":         epoch,
		"Cache-Control":   "no-cache, no-store, no-transform, must-revalidate, private, max-age=0",
		"Pragma":          "no-cache",
		"X-Accel-Expires": "0",
	}
	CachedHeaders = map[string]string{
		"Cache-Control": "public, max-age=86400",
	}
)

func NoopMiddleware(next http.Handler) http.Handler {
	return next
}

// Recovered answers every request that panicked with a 500 and a short
// diagnostic body, so no request is ever left without a response.
func Recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				slog.ErrorContext(r.Context(), "Crash", "panic", rvr, "stack", string(debug.Stack()))

				if r.Header.Get("Connection") != "Upgrade" {
					message := fmt.Sprintf("%s: %v", http.StatusText(http.StatusInternalServerError), rvr)
					http.Error(w, message, http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteHeaders(w, NoCacheHeaders)
		next.ServeHTTP(w, r)
	})
}

func WriteHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}

// ServiceUnavailable tells the client the failure is transient.
func ServiceUnavailable(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set(HeaderRetryAfter, strconv.Itoa(seconds))
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

func noContent(w http.ResponseWriter, r *http.Request) {
	WriteHeaders(w, CachedHeaders)
	w.WriteHeader(http.StatusNoContent)
}

func catchAll(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	slog.WarnContext(r.Context(), "CatchAll handler", "path", path, "host", r.Host, "method", r.Method)

	if strings.HasSuffix(path, "/.git/config") || strings.HasSuffix(path, ".php") {
		noContent(w, r)
		return
	}

	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

func robotsTXT(w http.ResponseWriter, r *http.Request) {
	contents := "User-agent: *\nDisallow: /"
	w.Header().Set(HeaderContentType, ContentTypePlain)
	WriteHeaders(w, CachedHeaders)
	fmt.Fprint(w, contents)
}

// 2xx responses make them cached on CDN level
func SetupWellKnownPaths(router *http.ServeMux, chain alice.Chain) {
	router.Handle("/robots.txt", chain.ThenFunc(robotsTXT))
	router.Handle("/favicon.ico", chain.ThenFunc(noContent))
	router.Handle("/.well-known/", chain.ThenFunc(noContent))
	router.Handle("/wp-admin/", chain.ThenFunc(noContent))
	router.Handle("/", chain.ThenFunc(catchAll))
}
