package leakybucket

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

type BucketConstraint[TKey comparable, T any] interface {
	LeakyBucket[TKey]
	*T
}

type Manager[TKey comparable, T any, TBucket BucketConstraint[TKey, T]] struct {
	buckets       map[TKey]TBucket
	heap          BucketsHeap[TKey]
	lock          sync.Mutex
	capacity      TLevel
	leakInterval  time.Duration
	defaultBucket TBucket
	// if we overflow upperBound, we cleanup down to lowerBound
	upperBound int
	lowerBound int
}

func NewManager[TKey comparable, T any, TBucket BucketConstraint[TKey, T]](maxBuckets int, capacity TLevel, leakInterval time.Duration) *Manager[TKey, T, TBucket] {
	m := &Manager[TKey, T, TBucket]{
		buckets:      make(map[TKey]TBucket),
		heap:         BucketsHeap[TKey]{},
		capacity:     capacity,
		leakInterval: leakInterval,
		upperBound:   maxBuckets,
		lowerBound:   maxBuckets/2 + maxBuckets/4,
	}

	heap.Init(&m.heap)

	return m
}

// SetDefaultBucket sets the bucket used for the zero key
func (m *Manager[TKey, T, TBucket]) SetDefaultBucket(bucket TBucket) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.defaultBucket = bucket
}

func (m *Manager[TKey, T, TBucket]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.buckets)
}

func (m *Manager[TKey, T, TBucket]) Level(key TKey, tnow time.Time) (TLevel, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	bucket, ok := m.buckets[key]
	if !ok {
		return 0, false
	}

	return bucket.Level(tnow), true
}

func (m *Manager[TKey, T, TBucket]) removeOldestUnsafe() TBucket {
	oldest := heap.Pop(&m.heap).(TBucket)
	delete(m.buckets, oldest.Key())
	return oldest
}

func (m *Manager[TKey, T, TBucket]) Add(key TKey, n TLevel, tnow time.Time) AddResult {
	m.lock.Lock()
	defer m.lock.Unlock()

	var zero TKey
	if key == zero && m.defaultBucket != nil {
		result := m.defaultBucket.Add(tnow, n)
		result.Found = true
		return result
	}

	bucket, found := m.buckets[key]
	if !found {
		bucket = new(T)
		bucket.Init(key, m.capacity, m.leakInterval, tnow)
		m.buckets[key] = bucket
		heap.Push(&m.heap, bucket)

		// elastic cleanup is done in Cleanup()
		if (m.upperBound > 0) && (len(m.buckets) > m.upperBound) {
			m.removeOldestUnsafe()
		}
	}

	result := bucket.Add(tnow, n)
	result.Found = found

	if bucket.Index() >= 0 {
		heap.Fix(&m.heap, bucket.Index())
	}

	return result
}

// Cleanup removes up to maxToDelete buckets: first down to the lower bound,
// then the least recently used buckets that are already empty
func (m *Manager[TKey, T, TBucket]) Cleanup(ctx context.Context, tnow time.Time, maxToDelete int, callback func(context.Context, LeakyBucket[TKey])) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	deleted := 0

	for (deleted < maxToDelete) && (m.lowerBound > 0) && (len(m.buckets) > m.lowerBound) {
		bucket := m.removeOldestUnsafe()
		deleted++
		if callback != nil {
			callback(ctx, bucket)
		}
	}

	for deleted < maxToDelete {
		oldest := m.heap.Oldest()
		if oldest == nil || oldest.Level(tnow) > 0 {
			break
		}

		bucket := m.removeOldestUnsafe()
		deleted++
		if callback != nil {
			callback(ctx, bucket)
		}
	}

	return deleted
}

func (m *Manager[TKey, T, TBucket]) Clear() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.buckets = make(map[TKey]TBucket)
	m.heap = BucketsHeap[TKey]{}
	heap.Init(&m.heap)
}
