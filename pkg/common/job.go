package common

import (
	"context"
	"log/slog"
	randv2 "math/rand/v2"
	"time"
)

type PeriodicJob interface {
	RunOnce(ctx context.Context) error
	Interval() time.Duration
	Jitter() time.Duration
	Name() string
}

func RunPeriodicJob(ctx context.Context, j PeriodicJob) {
	jlog := slog.With("name", j.Name())
	jlog.DebugContext(ctx, "Running periodic job", "interval", j.Interval().String())

	for running := true; running; {
		interval := j.Interval()
		if jitter := j.Jitter(); jitter > 0 {
			// spreads the load when several replicas run the same job
			interval += time.Duration(randv2.Int64N(int64(jitter)))
		}

		select {
		case <-ctx.Done():
			running = false
		case <-time.After(interval):
			if err := j.RunOnce(ctx); err != nil {
				jlog.WarnContext(ctx, "Periodic job failed", ErrAttr(err))
			}
		}
	}

	jlog.DebugContext(ctx, "Periodic job finished")
}
