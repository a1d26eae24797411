// Package timingwheel implements a single shared hashed timing wheel, the
// O(1)-insertion scheduler the idle-state checker relies on instead of one
// timer goroutine per connection.
package timingwheel

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wanjg/Jupiter/internal/clock"
)

// MinTimeout is the smallest delay the wheel honours; shorter delays are
// clamped up rather than firing early.
const MinTimeout = time.Millisecond

// Task is the unit of work a Timeout runs when it fires. Tasks run on the
// wheel's single tick goroutine and must not block.
type Task func()

// Timeout is a handle to a scheduled Task.
type Timeout interface {
	// Cancel prevents the task from firing if it has not fired yet. It
	// returns false if the task already fired or was already cancelled.
	Cancel() bool
	IsCancelled() bool
}

type entry struct {
	task            Task
	remainingRounds int64
	cancelled       int32
	fired           int32
	bucket          *bucket
	elem            *list.Element
}

func (e *entry) Cancel() bool {
	if !atomic.CompareAndSwapInt32(&e.cancelled, 0, 1) {
		return false
	}
	if atomic.LoadInt32(&e.fired) == 1 {
		return false
	}
	if e.bucket != nil {
		e.bucket.remove(e)
	}
	return true
}

func (e *entry) IsCancelled() bool {
	return atomic.LoadInt32(&e.cancelled) == 1
}

type bucket struct {
	mu      sync.Mutex
	entries *list.List
}

func newBucket() *bucket {
	return &bucket{entries: list.New()}
}

func (b *bucket) add(e *entry) {
	b.mu.Lock()
	e.elem = b.entries.PushBack(e)
	e.bucket = b
	b.mu.Unlock()
}

func (b *bucket) remove(e *entry) {
	b.mu.Lock()
	if e.elem != nil {
		b.entries.Remove(e.elem)
		e.elem = nil
	}
	b.mu.Unlock()
}

// expire fires (or decrements the round counter of) every entry currently in
// the bucket, clearing the bucket afterwards.
func (b *bucket) expire() {
	b.mu.Lock()
	pending := make([]*entry, 0, b.entries.Len())
	var next *list.Element
	for e := b.entries.Front(); e != nil; e = next {
		next = e.Next()
		te := e.Value.(*entry)
		if te.remainingRounds > 0 {
			te.remainingRounds--
			continue
		}
		b.entries.Remove(e)
		te.elem = nil
		pending = append(pending, te)
	}
	b.mu.Unlock()

	for _, te := range pending {
		if !atomic.CompareAndSwapInt32(&te.fired, 0, 1) {
			continue
		}
		if te.IsCancelled() {
			continue
		}
		te.task()
	}
}

// TimingWheel is a hashed wheel: wheelSize buckets, one tick every
// tickDuration. Insertion and cancellation are O(1); fire granularity is
// coarse (one tick).
type TimingWheel struct {
	tickDuration time.Duration
	wheelSize    int
	buckets      []*bucket
	clock        clock.Clock

	cursor   int64
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  int32
}

// New builds a wheel. A non-positive tickDuration defaults to 100ms and a
// non-positive wheelSize to 512 buckets; any positive size works, since
// bucket indices are computed with a plain modulo.
func New(tickDuration time.Duration, wheelSize int, clk clock.Clock) *TimingWheel {
	if tickDuration <= 0 {
		tickDuration = 100 * time.Millisecond
	}
	if wheelSize <= 0 {
		wheelSize = 512
	}
	if clk == nil {
		clk = clock.System{}
	}
	buckets := make([]*bucket, wheelSize)
	for i := range buckets {
		buckets[i] = newBucket()
	}
	return &TimingWheel{
		tickDuration: tickDuration,
		wheelSize:    wheelSize,
		buckets:      buckets,
		clock:        clk,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the single tick goroutine. Calling Start twice is a no-op.
func (tw *TimingWheel) Start() {
	if !atomic.CompareAndSwapInt32(&tw.started, 0, 1) {
		return
	}
	tw.wg.Add(1)
	go tw.run()
}

// Stop halts the tick goroutine. Pending entries are left uncancelled; callers
// that need a clean shutdown should cancel their own timeouts first.
func (tw *TimingWheel) Stop() {
	if !atomic.CompareAndSwapInt32(&tw.started, 1, 2) {
		return
	}
	close(tw.stopCh)
	tw.wg.Wait()
}

func (tw *TimingWheel) run() {
	defer tw.wg.Done()
	ticker := time.NewTicker(tw.tickDuration)
	defer ticker.Stop()
	for {
		select {
		case <-tw.stopCh:
			return
		case <-ticker.C:
			idx := atomic.AddInt64(&tw.cursor, 1) % int64(tw.wheelSize)
			tw.buckets[idx].expire()
		}
	}
}

// NewTimeout schedules task to fire no earlier than delay from now. Delays
// below MinTimeout are clamped to MinTimeout.
func (tw *TimingWheel) NewTimeout(task Task, delay time.Duration) Timeout {
	if delay < MinTimeout {
		delay = MinTimeout
	}
	// The next tick may be only an instant away, so one tick is added on top
	// of the rounded-up delay to keep the fire no earlier than delay.
	ticks := int64((delay+tw.tickDuration-1)/tw.tickDuration) + 1
	cursor := atomic.LoadInt64(&tw.cursor)
	wheelSize := int64(tw.wheelSize)
	targetTick := cursor + ticks
	idx := targetTick % wheelSize
	// The bucket at idx is visited (ticks-1)/wheelSize times before the
	// target tick; each of those visits consumes one round.
	rounds := (ticks - 1) / wheelSize

	e := &entry{task: task, remainingRounds: rounds}
	tw.buckets[idx].add(e)
	return e
}
