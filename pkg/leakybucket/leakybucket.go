package leakybucket

import (
	"time"
)

// we assume that one bucket will not hold more than 4*10^9 units, this also restricts max level
type TLevel = uint32

type AddResult struct {
	CurrLevel TLevel
	Capacity  TLevel
	Added     TLevel
	Found     bool
	// ResetAfter is the time until the bucket is empty
	ResetAfter time.Duration
	// RetryAfter is set when nothing could be added
	RetryAfter time.Duration
}

func (r AddResult) Remaining() TLevel {
	if r.CurrLevel >= r.Capacity {
		return 0
	}
	return r.Capacity - r.CurrLevel
}

type LeakyBucket[TKey comparable] interface {
	Level(tnow time.Time) TLevel
	// Add tries to add n units and reports how much was actually added
	Add(tnow time.Time, n TLevel) AddResult
	Key() TKey
	Index() int
	SetIndex(i int)
	LastAccessTime() time.Time
	Init(key TKey, capacity TLevel, leakInterval time.Duration, t time.Time)
}

// ConstLeakyBucket leaks one unit every leakInterval
type ConstLeakyBucket[TKey comparable] struct {
	// key of the bucket in the hashmap
	key            TKey
	lastAccessTime time.Time
	// leakTime is the moment from which the next leak is counted
	leakTime     time.Time
	level        TLevel
	capacity     TLevel
	leakInterval time.Duration
	// index of this bucket in the priority queue (needed to implement it "the Go way")
	index int
}

var _ LeakyBucket[int] = (*ConstLeakyBucket[int])(nil)

func NewConstBucket[TKey comparable](key TKey, capacity TLevel, leakInterval time.Duration, t time.Time) *ConstLeakyBucket[TKey] {
	b := &ConstLeakyBucket[TKey]{}
	b.Init(key, capacity, leakInterval, t)
	return b
}

func (lb *ConstLeakyBucket[TKey]) Init(key TKey, capacity TLevel, leakInterval time.Duration, t time.Time) {
	lb.key = key
	lb.capacity = capacity
	lb.leakInterval = max(leakInterval, time.Millisecond)
	lb.lastAccessTime = t
	lb.leakTime = t
	lb.level = 0
}

func (lb *ConstLeakyBucket[TKey]) LastAccessTime() time.Time {
	return lb.lastAccessTime
}

func (lb *ConstLeakyBucket[TKey]) Index() int {
	return lb.index
}

func (lb *ConstLeakyBucket[TKey]) SetIndex(i int) {
	lb.index = i
}

func (lb *ConstLeakyBucket[TKey]) Key() TKey {
	return lb.key
}

func (lb *ConstLeakyBucket[TKey]) leaked(tnow time.Time) TLevel {
	// we only leak for "future" time (from the perspective of leakTime)
	if !tnow.After(lb.leakTime) {
		return 0
	}

	units := tnow.Sub(lb.leakTime) / lb.leakInterval
	if units > time.Duration(lb.level) {
		return lb.level
	}

	return TLevel(units)
}

func (lb *ConstLeakyBucket[TKey]) Level(tnow time.Time) TLevel {
	return lb.level - lb.leaked(tnow)
}

func (lb *ConstLeakyBucket[TKey]) Add(tnow time.Time, n TLevel) AddResult {
	if leaked := lb.leaked(tnow); leaked > 0 {
		lb.level -= leaked
		// keep the partially elapsed interval so leaking does not drift
		lb.leakTime = lb.leakTime.Add(time.Duration(leaked) * lb.leakInterval)
	}

	if lb.level == 0 && tnow.After(lb.leakTime) {
		lb.leakTime = tnow
	}

	if tnow.After(lb.lastAccessTime) {
		lb.lastAccessTime = tnow
	}

	added := min(n, lb.capacity-lb.level)
	lb.level += added

	result := AddResult{
		CurrLevel: lb.level,
		Capacity:  lb.capacity,
		Added:     added,
	}

	sinceLeak := max(0, tnow.Sub(lb.leakTime))

	if lb.level > 0 {
		result.ResetAfter = time.Duration(lb.level)*lb.leakInterval - sinceLeak
	}

	if added < n {
		result.RetryAfter = lb.leakInterval - sinceLeak
	}

	return result
}
