package common

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestProcessBatchArrayByTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := make(chan int, 10)
	var mux sync.Mutex
	var batches [][]int

	done := make(chan struct{})
	go func() {
		defer close(done)
		ProcessBatchArray(ctx, channel, time.Minute, 3, 10, func(_ context.Context, batch []int) error {
			mux.Lock()
			defer mux.Unlock()
			batches = append(batches, append([]int(nil), batch...))
			return nil
		})
	}()

	for i := 0; i < 4; i++ {
		channel <- i
	}
	close(channel)
	<-done

	mux.Lock()
	defer mux.Unlock()

	if len(batches) != 2 {
		t.Fatalf("Unexpected number of batches: %v", batches)
	}

	if len(batches[0]) != 3 || len(batches[1]) != 1 {
		t.Errorf("Unexpected batches: %v", batches)
	}
}

func TestProcessBatchArrayRetriesFailedBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := make(chan int, 10)
	attempts := 0
	var seen []int

	done := make(chan struct{})
	go func() {
		defer close(done)
		ProcessBatchArray(ctx, channel, 10*time.Millisecond, 100, 100, func(_ context.Context, batch []int) error {
			attempts++
			if attempts == 1 {
				return errors.New("transient")
			}
			seen = append(seen, batch...)
			return nil
		})
	}()

	channel <- 1
	time.Sleep(50 * time.Millisecond)
	close(channel)
	<-done

	if attempts < 2 {
		t.Errorf("Expected batch to be retried, attempts: %v", attempts)
	}

	if len(seen) != 1 || seen[0] != 1 {
		t.Errorf("Unexpected processed items: %v", seen)
	}
}
