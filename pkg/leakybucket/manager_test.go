package leakybucket

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"testing"
	"time"
)

func TestManagerCleanup(t *testing.T) {
	const maxBuckets = 8
	const cap = 5
	manager := NewManager[int32, ConstLeakyBucket[int32]](maxBuckets, cap, 1*time.Second)
	tnow := time.Now().Truncate(1 * time.Second)
	// we add in reverse to check that we cleanup in correct order
	for i := maxBuckets - 1; i >= 0; i-- {
		key := int32(i)
		result := manager.Add(key, cap, tnow.Add(time.Duration(-i*10)*time.Millisecond))

		if result.Added != cap {
			t.Errorf("Unexpected added: %v (bucket %v)", result.Added, key)
		}

		if result.CurrLevel != cap {
			t.Errorf("Unexpected curr level: %v (bucket %v)", result.CurrLevel, key)
		}
	}

	deletedKeys := make([]int32, 0)
	callback := func(ctx context.Context, bucket LeakyBucket[int32]) {
		deletedKeys = append(deletedKeys, bucket.Key())
	}

	// lowerbound is 3/4 * maxbuckets == 6
	// we always compress to lowerbound first, so we should delete 2 at least
	// and then we add 2 more (to make 4) to be deleted from the "usual" ones
	manager.Cleanup(context.TODO(), tnow.Add(cap*time.Second), 4 /*maxToDelete*/, callback)

	// oldest items should be the last in the list based on BucketsHeap
	if !slices.Equal(deletedKeys, []int32{7, 6, 5, 4}) {
		t.Errorf("Unexpected keys were deleted: %v", deletedKeys)
	}
}

func TestManagerAdd(t *testing.T) {
	const maxBuckets = 8
	const cap = 5
	const key = 123

	manager := NewManager[int32, ConstLeakyBucket[int32]](maxBuckets, cap, 1*time.Second)
	tnow := time.Now().Truncate(1 * time.Second)

	for i := 0; i < cap; i++ {
		result := manager.Add(key, 1, tnow)
		if result.CurrLevel != uint32(i+1) {
			t.Errorf("Unexpected level: %v", result.CurrLevel)
		}
		if result.Added != 1 {
			t.Errorf("Failed to add to bucket")
		}
	}
}

func TestManagerAddParallel(t *testing.T) {
	const maxBuckets = 8
	const cap = 5
	const key = 123

	manager := NewManager[int32, ConstLeakyBucket[int32]](maxBuckets, cap, 1*time.Second)
	tnow := time.Now().Truncate(1 * time.Second)

	var wg sync.WaitGroup

	for i := 0; i < cap; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result := manager.Add(key, 1, tnow)
			if result.Added != 1 {
				t.Errorf("Failed to add to bucket")
			}
		}()
	}

	wg.Wait()

	result := manager.Add(key, 1, tnow)
	if result.CurrLevel != cap {
		t.Errorf("Unexpected level after full: %v", result.CurrLevel)
	}
	if result.Added != 0 {
		t.Errorf("Was able to add to the bucket after")
	}
}

func TestManagerAddDefault(t *testing.T) {
	const maxBuckets = 8
	const cap = 5
	const key = 123

	manager := NewManager[int32, ConstLeakyBucket[int32]](maxBuckets, cap, 1*time.Second)
	tnow := time.Now().Truncate(1 * time.Second)

	manager.SetDefaultBucket(NewConstBucket[int32](key, cap, 1*time.Second, tnow.Add(-1*time.Minute)))

	for i := 0; i < cap; i++ {
		result := manager.Add(key, 1, tnow)
		if result.CurrLevel != uint32(i+1) {
			t.Errorf("Unexpected level: %v", result.CurrLevel)
		}
		if result.Added != 1 {
			t.Errorf("Failed to add to bucket")
		}
	}

	result := manager.Add(key, 1, tnow)
	if result.CurrLevel != cap {
		t.Errorf("Unexpected level after full: %v", result.CurrLevel)
	}
	if result.Added != 0 {
		t.Errorf("Managed to add to full bucket")
	}
}

func TestManagerIPAddrAddDefault(t *testing.T) {
	const maxBuckets = 8
	const cap = 5
	manager := NewManager[netip.Addr, ConstLeakyBucket[netip.Addr]](maxBuckets, cap, 1*time.Second)

	tnow := time.Now().Truncate(1 * time.Second)
	manager.SetDefaultBucket(NewConstBucket(netip.Addr{}, cap, 1*time.Second, tnow))

	key := netip.Addr{}
	for i := 0; i < cap; i++ {
		result := manager.Add(key, 1, tnow)
		if result.CurrLevel != uint32(i+1) {
			t.Errorf("Unexpected level: %v", result.CurrLevel)
		}
		if result.Added != 1 {
			t.Errorf("Failed to add to bucket")
		}
	}

	result := manager.Add(key, 1, tnow)
	if result.CurrLevel != cap {
		t.Errorf("Unexpected level after full: %v", result.CurrLevel)
	}
	if result.Added != 0 {
		t.Errorf("Managed to add to full bucket")
	}
}

func TestManagerEvictsLeastRecentlyUsed(t *testing.T) {
	const maxBuckets = 4
	manager := NewManager[string, ConstLeakyBucket[string]](maxBuckets, 3, 1*time.Second)
	tnow := time.Now().Truncate(1 * time.Second)

	for i, key := range []string{"a", "b", "c", "d"} {
		manager.Add(key, 1, tnow.Add(time.Duration(i)*time.Millisecond))
	}

	// touching "a" makes "b" the least recently used
	manager.Add("a", 1, tnow.Add(10*time.Millisecond))
	manager.Add("e", 1, tnow.Add(20*time.Millisecond))

	if manager.Len() != maxBuckets {
		t.Fatalf("Unexpected buckets count: %v", manager.Len())
	}

	if _, ok := manager.Level("b", tnow); ok {
		t.Errorf("Bucket b was not evicted")
	}

	if level, ok := manager.Level("a", tnow.Add(10*time.Millisecond)); !ok || level != 2 {
		t.Errorf("Unexpected level of bucket a: %v (found %v)", level, ok)
	}
}

func TestManagerCleanupKeepsNonEmpty(t *testing.T) {
	manager := NewManager[int32, ConstLeakyBucket[int32]](100, 5, 1*time.Second)
	tnow := time.Now().Truncate(1 * time.Second)

	manager.Add(1, 1, tnow)
	manager.Add(2, 5, tnow.Add(1*time.Millisecond))

	deleted := manager.Cleanup(context.TODO(), tnow.Add(2*time.Second), 10, nil)
	if deleted != 1 {
		t.Errorf("Unexpected deleted count: %v", deleted)
	}

	if _, ok := manager.Level(2, tnow); !ok {
		t.Errorf("Non-empty bucket was deleted")
	}

	manager.Clear()
	if manager.Len() != 0 {
		t.Errorf("Manager is not empty after clear")
	}
}
