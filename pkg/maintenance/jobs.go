package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devicegate/devicegate/pkg/common"
)

func NewJobs() *jobs {
	return &jobs{
		periodicJobs: make([]common.PeriodicJob, 0),
	}
}

type jobs struct {
	periodicJobs      []common.PeriodicJob
	maintenanceCancel context.CancelFunc
	maintenanceCtx    context.Context
}

func (j *jobs) Add(job common.PeriodicJob) {
	j.periodicJobs = append(j.periodicJobs, job)
}

func (j *jobs) Run() {
	j.maintenanceCtx, j.maintenanceCancel = context.WithCancel(
		context.WithValue(context.Background(), common.TraceIDContextKey, "maintenance"))

	slog.DebugContext(j.maintenanceCtx, "Starting maintenance jobs", "periodic", len(j.periodicJobs))

	for _, job := range j.periodicJobs {
		go common.RunPeriodicJob(j.maintenanceCtx, job)
	}
}

// Setup exposes on-demand launch of jobs. It is meant for the local listener only.
func (j *jobs) Setup(mux *http.ServeMux) {
	mux.HandleFunc(http.MethodPost+" /maintenance/{job}", j.handleJob)
}

func (j *jobs) handleJob(w http.ResponseWriter, r *http.Request) {
	jobName := r.PathValue("job")
	if len(jobName) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	slog.DebugContext(ctx, "Handling on-demand job launch", "job", jobName)

	for _, job := range j.periodicJobs {
		if job.Name() == jobName {
			go func(ctx context.Context) {
				if err := job.RunOnce(ctx); err != nil {
					slog.ErrorContext(ctx, "On-demand job failed", "job", jobName, common.ErrAttr(err))
				}
			}(context.WithoutCancel(ctx))

			w.WriteHeader(http.StatusOK)
			return
		}
	}

	http.Error(w, fmt.Sprintf("job %v not found", jobName), http.StatusBadRequest)
}

func (j *jobs) Shutdown() {
	slog.Debug("Shutting down maintenance jobs")

	if j.maintenanceCancel != nil {
		j.maintenanceCancel()
	}
}

type DocumentFetcher interface {
	Refresh(ctx context.Context) error
}

// DocumentRefreshJob keeps the download document warm so that gated requests
// rarely wait for the upstream fetch
type DocumentRefreshJob struct {
	Fetcher       DocumentFetcher
	RefreshPeriod time.Duration
}

var _ common.PeriodicJob = (*DocumentRefreshJob)(nil)

func (j *DocumentRefreshJob) Interval() time.Duration {
	if j.RefreshPeriod > 0 {
		return j.RefreshPeriod
	}

	return 1 * time.Minute
}

func (j *DocumentRefreshJob) Jitter() time.Duration {
	return j.Interval() / 10
}

func (j *DocumentRefreshJob) Name() string {
	return "refresh_downloads"
}

func (j *DocumentRefreshJob) RunOnce(ctx context.Context) error {
	return j.Fetcher.Refresh(ctx)
}
