package common

import (
	"context"
	"log/slog"
	"time"
)

// ProcessBatchArray drains channel into batches and hands them to processor
// either when triggerSize items are pending or when delay passes without new
// items. A batch that keeps failing is dropped once it grows past maxBatchSize.
func ProcessBatchArray[T any](ctx context.Context, channel <-chan T, delay time.Duration, triggerSize, maxBatchSize int, processor func(context.Context, []T) error) {
	var batch []T
	slog.DebugContext(ctx, "Processing batch", "interval", delay.String())

	flush := func(reason string) {
		slog.Log(ctx, LevelTrace, "Processing batch", "count", len(batch), "reason", reason)
		if err := processor(ctx, batch); err == nil {
			batch = []T{}
		} else {
			slog.WarnContext(ctx, "Failed to process batch", "count", len(batch), ErrAttr(err))
		}
	}

	for running := true; running; {
		if len(batch) > maxBatchSize {
			slog.ErrorContext(ctx, "Dropping pending batch due to errors", "count", len(batch))
			batch = []T{}
		}

		select {
		case <-ctx.Done():
			running = false

		case item, ok := <-channel:
			if !ok {
				running = false
				break
			}

			batch = append(batch, item)

			if len(batch) >= triggerSize {
				flush("batch")
			}
		case <-time.After(delay):
			if len(batch) > 0 {
				flush("timeout")
			}
		}
	}

	if len(batch) > 0 {
		// context may be cancelled already
		if err := processor(context.WithoutCancel(ctx), batch); err != nil {
			slog.ErrorContext(ctx, "Failed to process final batch", "count", len(batch), ErrAttr(err))
		}
	}

	slog.InfoContext(ctx, "Finished processing batch")
}
