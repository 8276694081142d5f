package monitoring

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	prometheus_metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

const (
	metricsNamespace = "devicegate"
	metricsSubsystem = "gate"
	resultLabel      = "result"
	modeLabel        = "mode"
	successLabel     = "success"
)

type Metrics interface {
	Handler(h http.Handler) http.Handler
	HandlerFunc(handlerIDFunc func() string) func(http.Handler) http.Handler
	// ObserveAdmission counts gate decisions (bound, refreshed, rejected) and failures
	ObserveAdmission(result string)
	// ObserveConflict counts lost compare-and-swap races in the device registry
	ObserveConflict()
	ObserveTransfer(mode string, success bool)
}

type service struct {
	registry      *prometheus.Registry
	middleware    middleware.Middleware
	admitCount    *prometheus.CounterVec
	conflictCount prometheus.Counter
	transferCount *prometheus.CounterVec
}

var _ Metrics = (*service)(nil)

func traceID() string {
	return xid.New().String()
}

func Logged(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := time.Now()
		ctx := common.TraceContextFunc(r.Context(), traceID)

		slog.DebugContext(ctx, "Started request", "path", r.URL.Path, "method", r.Method)
		defer func() {
			slog.DebugContext(ctx, "Finished request", "path", r.URL.Path, "method", r.Method,
				"duration", time.Since(t).Milliseconds())
		}()

		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func NewService() *service {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	admitCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "admission_total",
			Help:      "Total number of gated download requests by result",
		},
		[]string{resultLabel},
	)
	reg.MustRegister(admitCount)

	conflictCount := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "registry_conflict_total",
			Help:      "Total number of concurrent binding record updates that had to be retried",
		},
	)
	reg.MustRegister(conflictCount)

	transferCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "transfer_total",
			Help:      "Total number of artifact transfers",
		},
		[]string{modeLabel, successLabel},
	)
	reg.MustRegister(transferCount)

	return &service{
		registry: reg,
		middleware: middleware.New(middleware.Config{
			Service: metricsNamespace,
			Recorder: prometheus_metrics.NewRecorder(prometheus_metrics.Config{
				Registry: reg,
			}),
		}),
		admitCount:    admitCount,
		conflictCount: conflictCount,
		transferCount: transferCount,
	}
}

func (s *service) Handler(h http.Handler) http.Handler {
	// handlerID is taken from the request path in this case
	return std.Handler("", s.middleware, h)
}

func (s *service) HandlerFunc(handlerIDFunc func() string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		handlerID := handlerIDFunc()
		return std.Handler(handlerID, s.middleware, h)
	}
}

func (s *service) ObserveAdmission(result string) {
	s.admitCount.With(prometheus.Labels{resultLabel: result}).Inc()
}

func (s *service) ObserveConflict() {
	s.conflictCount.Inc()
}

func (s *service) ObserveTransfer(mode string, success bool) {
	s.transferCount.With(prometheus.Labels{
		modeLabel:    mode,
		successLabel: strconv.FormatBool(success),
	}).Inc()
}

func (s *service) Setup(mux *http.ServeMux) {
	mux.Handle("/"+common.MetricsEndpoint, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.setupProfiling(context.TODO(), mux)
}
