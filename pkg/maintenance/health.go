package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/devicegate/devicegate/pkg/common"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck is a named dependency probed by the health job
type HealthCheck struct {
	Name   string
	Pinger Pinger
	flag   atomic.Int32
}

type HealthCheckJob struct {
	Checks           []*HealthCheck
	Router           *http.ServeMux
	shuttingDownFlag atomic.Int32
	CheckInterval    common.ConfigItem
	WithSystemd      bool
}

const (
	greenPage = `<!DOCTYPE html><html><body style="background-color: green;"></body></html>`
	redPage   = `<!DOCTYPE html><html><body style="background-color: red;"></body></html>`
	flagTrue  = 1
	flagFalse = 0
)

var _ common.PeriodicJob = (*HealthCheckJob)(nil)

func NewHealthCheckJob(router *http.ServeMux, interval common.ConfigItem, withSystemd bool) *HealthCheckJob {
	return &HealthCheckJob{
		Router:        router,
		CheckInterval: interval,
		WithSystemd:   withSystemd,
	}
}

// AddCheck registers a dependency. Checks start healthy so that the first
// probe does not race with the first request.
func (hc *HealthCheckJob) AddCheck(name string, p Pinger) {
	check := &HealthCheck{Name: name, Pinger: p}
	check.flag.Store(flagTrue)
	hc.Checks = append(hc.Checks, check)
}

func (hc *HealthCheckJob) Interval() time.Duration {
	if (hc.CheckInterval != nil) && (hc.CheckInterval.Value() == "slow") {
		return 1 * time.Minute
	}

	return 5 * time.Second
}

func (hc *HealthCheckJob) Jitter() time.Duration {
	return 1
}

func (hc *HealthCheckJob) Name() string {
	return "health_check"
}

func (hc *HealthCheckJob) RunOnce(ctx context.Context) error {
	for _, check := range hc.Checks {
		result := int32(flagFalse)
		if err := check.Pinger.Ping(ctx); err == nil {
			result = flagTrue
		} else {
			slog.ErrorContext(ctx, "Failed to ping dependency", "name", check.Name, common.ErrAttr(err))
		}
		check.flag.Store(result)
	}

	if hc.WithSystemd {
		if result := hc.checkHTTP(ctx); result == flagTrue {
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}

	return nil
}

func (hc *HealthCheckJob) isHealthy() bool {
	for _, check := range hc.Checks {
		if check.flag.Load() != flagTrue {
			return false
		}
	}

	return true
}

func (hc *HealthCheckJob) isShuttingDown() bool {
	return hc.shuttingDownFlag.Load() == flagTrue
}

func (hc *HealthCheckJob) checkHTTP(ctx context.Context) int32 {
	result := int32(flagFalse)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "/"+common.HealthEndpoint, nil)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to ping own health endpoint", common.ErrAttr(err))
		return result
	}
	w := httptest.NewRecorder()
	hc.Router.ServeHTTP(w, req)
	if w.Code == http.StatusOK {
		result = flagTrue
	}
	return result
}

func (hc *HealthCheckJob) Shutdown(ctx context.Context) {
	slog.DebugContext(ctx, "Shutting down health check job")
	hc.shuttingDownFlag.Store(flagTrue)
}

func (hc *HealthCheckJob) HandlerFunc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeHTML)
	if hc.isHealthy() && !hc.isShuttingDown() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, greenPage)
	} else {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(w, redPage)
	}
}

// LiveHandler only reports that the process accepts requests
func (hc *HealthCheckJob) LiveHandler(w http.ResponseWriter, r *http.Request) {
	if hc.isShuttingDown() {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
