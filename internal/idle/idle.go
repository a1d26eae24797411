// Package idle implements the per-connection idle-state checker: a sliding
// deadline built on the shared timing wheel, distinct from a per-event-loop
// delayed queue, that detects reader/writer/all idleness without spurious
// fires and without ever drifting later than idleLimit past the last
// activity.
package idle

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wanjg/Jupiter/internal/clock"
	"github.com/wanjg/Jupiter/internal/timingwheel"
)

// Kind identifies which idle event fired.
type Kind int

const (
	FirstReaderIdle Kind = iota
	ReaderIdle
	FirstWriterIdle
	WriterIdle
	FirstAllIdle
	AllIdle
)

func (k Kind) String() string {
	switch k {
	case FirstReaderIdle:
		return "FIRST_READER_IDLE"
	case ReaderIdle:
		return "READER_IDLE"
	case FirstWriterIdle:
		return "FIRST_WRITER_IDLE"
	case WriterIdle:
		return "WRITER_IDLE"
	case FirstAllIdle:
		return "FIRST_ALL_IDLE"
	case AllIdle:
		return "ALL_IDLE"
	default:
		return fmt.Sprintf("UNKNOWN_IDLE(%d)", int(k))
	}
}

// Event is emitted when reader, writer, or all-traffic idleness is
// detected.
type Event struct {
	Kind Kind
}

type lifecycle int32

const (
	stateNone lifecycle = iota
	stateInitialized
	stateDestroyed
)

// Checker watches one connection for reader/writer/all idleness. A zero
// duration disables that variant.
//
// Checker schedules its own re-arming timeouts on the shared TimingWheel
// rather than owning a goroutine per connection, which is the entire point
// of the shared wheel: O(1) scheduling independent of connection count.
type Checker struct {
	wheel *timingwheel.TimingWheel
	clock clock.Clock

	readerIdle time.Duration
	writerIdle time.Duration
	allIdle    time.Duration

	isActive func() bool
	onEvent  func(Event)
	onError  func(error)

	lastRead  int64 // atomic, ms
	lastWrite int64 // atomic, ms

	readerFirst int32 // atomic bool: 1 = next reader-idle fire is "first"
	writerFirst int32
	allFirst    int32

	readerTimeout timingwheel.Timeout
	writerTimeout timingwheel.Timeout
	allTimeout    timingwheel.Timeout

	state int32 // atomic lifecycle
}

// Config bundles a Checker's idle durations. Zero disables that variant.
type Config struct {
	ReaderIdle time.Duration
	WriterIdle time.Duration
	AllIdle    time.Duration
}

// New builds a Checker. isActive reports whether the underlying connection
// is still open; onEvent is called synchronously on the wheel's tick
// goroutine when an idle event fires, so it must not block. onError, if
// non-nil, receives any panic onEvent raises; the timer keeps running
// regardless.
func New(wheel *timingwheel.TimingWheel, clk clock.Clock, cfg Config, isActive func() bool, onEvent func(Event), onError func(error)) *Checker {
	if clk == nil {
		clk = clock.System{}
	}
	return &Checker{
		wheel:      wheel,
		clock:      clk,
		readerIdle: cfg.ReaderIdle,
		writerIdle: cfg.WriterIdle,
		allIdle:    cfg.AllIdle,
		isActive:   isActive,
		onEvent:    onEvent,
		onError:    onError,
	}
}

// Init arms the checker exactly once. Calling it again, or calling it after
// Destroy, is a no-op. It also does nothing if the connection is already
// inactive by the time it runs.
func (c *Checker) Init() {
	if !atomic.CompareAndSwapInt32(&c.state, int32(stateNone), int32(stateInitialized)) {
		return
	}
	if c.isActive != nil && !c.isActive() {
		return
	}

	now := c.clock.NowMillis()
	atomic.StoreInt64(&c.lastRead, now)
	atomic.StoreInt64(&c.lastWrite, now)
	atomic.StoreInt32(&c.readerFirst, 1)
	atomic.StoreInt32(&c.writerFirst, 1)
	atomic.StoreInt32(&c.allFirst, 1)

	if c.readerIdle > 0 {
		c.readerTimeout = c.wheel.NewTimeout(c.fireReader, c.readerIdle)
	}
	if c.writerIdle > 0 {
		c.writerTimeout = c.wheel.NewTimeout(c.fireWriter, c.writerIdle)
	}
	if c.allIdle > 0 {
		c.allTimeout = c.wheel.NewTimeout(c.fireAll, c.allIdle)
	}
}

// Destroy cancels every scheduled timeout. Idempotent.
func (c *Checker) Destroy() {
	prev := atomic.SwapInt32(&c.state, int32(stateDestroyed))
	if lifecycle(prev) == stateDestroyed {
		return
	}
	cancel(c.readerTimeout)
	cancel(c.writerTimeout)
	cancel(c.allTimeout)
}

func cancel(t timingwheel.Timeout) {
	if t != nil {
		t.Cancel()
	}
}

func (c *Checker) destroyed() bool {
	return lifecycle(atomic.LoadInt32(&c.state)) == stateDestroyed
}

// OnRead must be called after every successful inbound read.
func (c *Checker) OnRead() {
	atomic.StoreInt64(&c.lastRead, c.clock.NowMillis())
	atomic.StoreInt32(&c.readerFirst, 1)
	atomic.StoreInt32(&c.allFirst, 1)
}

// OnWrite must be called after every completed (not merely issued) outbound
// write.
func (c *Checker) OnWrite() {
	atomic.StoreInt64(&c.lastWrite, c.clock.NowMillis())
	atomic.StoreInt32(&c.writerFirst, 1)
	atomic.StoreInt32(&c.allFirst, 1)
}

func (c *Checker) fireReader() {
	if c.destroyed() || (c.isActive != nil && !c.isActive()) {
		return
	}
	last := atomic.LoadInt64(&c.lastRead)
	next := c.readerIdle - elapsedSince(c.clock, last)
	if next > 0 {
		c.readerTimeout = c.wheel.NewTimeout(c.fireReader, next)
		return
	}
	c.readerTimeout = c.wheel.NewTimeout(c.fireReader, c.readerIdle)
	c.emitFirstOr(&c.readerFirst, FirstReaderIdle, ReaderIdle)
}

func (c *Checker) fireWriter() {
	if c.destroyed() || (c.isActive != nil && !c.isActive()) {
		return
	}
	last := atomic.LoadInt64(&c.lastWrite)
	next := c.writerIdle - elapsedSince(c.clock, last)
	if next > 0 {
		c.writerTimeout = c.wheel.NewTimeout(c.fireWriter, next)
		return
	}
	c.writerTimeout = c.wheel.NewTimeout(c.fireWriter, c.writerIdle)
	c.emitFirstOr(&c.writerFirst, FirstWriterIdle, WriterIdle)
}

func (c *Checker) fireAll() {
	if c.destroyed() || (c.isActive != nil && !c.isActive()) {
		return
	}
	lastRead := atomic.LoadInt64(&c.lastRead)
	lastWrite := atomic.LoadInt64(&c.lastWrite)
	last := lastRead
	if lastWrite > last {
		last = lastWrite
	}
	next := c.allIdle - elapsedSince(c.clock, last)
	if next > 0 {
		c.allTimeout = c.wheel.NewTimeout(c.fireAll, next)
		return
	}
	c.allTimeout = c.wheel.NewTimeout(c.fireAll, c.allIdle)
	c.emitFirstOr(&c.allFirst, FirstAllIdle, AllIdle)
}

func elapsedSince(clk clock.Clock, lastMillis int64) time.Duration {
	return time.Duration(clk.NowMillis()-lastMillis) * time.Millisecond
}

func (c *Checker) emitFirstOr(firstFlag *int32, first, repeat Kind) {
	kind := repeat
	if atomic.CompareAndSwapInt32(firstFlag, 1, 0) {
		kind = first
	}
	c.emit(Event{Kind: kind})
}

func (c *Checker) emit(ev Event) {
	defer func() {
		if rec := recover(); rec != nil && c.onError != nil {
			c.onError(fmt.Errorf("idle event handler panic: %v", rec))
		}
	}()
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}
