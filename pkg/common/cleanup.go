package common

import (
	"context"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
)

// ChunkedCleanup calls deleter with chunkSize until ctx is cancelled. While
// deleter keeps removing full chunks it is called again quickly, otherwise the
// delay grows up to maxInterval.
func ChunkedCleanup(ctx context.Context, minInterval, maxInterval time.Duration, chunkSize int, deleter func(t time.Time, size int) int) {
	b := &backoff.Backoff{
		Min:    minInterval,
		Max:    maxInterval,
		Factor: 2,
		Jitter: true,
	}

	slog.DebugContext(ctx, "Starting cleanup", "interval", maxInterval.String())

	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case <-time.After(b.Duration()):
			if deleted := deleter(time.Now(), chunkSize); deleted == chunkSize {
				b.Reset()
			} else if deleted > 0 {
				slog.Log(ctx, LevelTrace, "Cleaned up items", "count", deleted)
			}
		}
	}

	slog.DebugContext(ctx, "Finished cleanup")
}
