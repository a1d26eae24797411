package idle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wanjg/Jupiter/internal/timingwheel"
)

// The first idle event after activity is the FIRST_* variant; every
// subsequent event for the same quiet period is the repeat variant.
func TestReaderIdleFirstThenRepeat(t *testing.T) {
	wheel := timingwheel.New(time.Millisecond, 64, nil)
	wheel.Start()
	defer wheel.Stop()

	events := make(chan Event, 8)
	checker := New(wheel, nil, Config{ReaderIdle: 20 * time.Millisecond}, func() bool { return true },
		func(ev Event) { events <- ev },
		func(err error) { t.Fatalf("unexpected onError: %v", err) },
	)
	checker.Init()
	defer checker.Destroy()

	first := <-events
	require.Equal(t, FirstReaderIdle, first.Kind)

	second := <-events
	require.Equal(t, ReaderIdle, second.Kind)

	checker.OnRead()
	// Drain any event already in flight from before OnRead took effect.
	select {
	case <-events:
	case <-time.After(10 * time.Millisecond):
	}

	third := <-events
	require.Equal(t, FirstReaderIdle, third.Kind, "activity must reset the first/repeat flag")
}

func TestDestroyIsIdempotentAndCancelsTimeouts(t *testing.T) {
	wheel := timingwheel.New(time.Millisecond, 64, nil)
	wheel.Start()
	defer wheel.Stop()

	fired := make(chan struct{}, 1)
	checker := New(wheel, nil, Config{ReaderIdle: 5 * time.Millisecond}, func() bool { return true },
		func(ev Event) { fired <- struct{}{} },
		nil,
	)
	checker.Init()
	checker.Destroy()
	checker.Destroy() // must not panic or double-cancel

	select {
	case <-fired:
		t.Fatal("idle event fired after Destroy")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestZeroDurationDisablesVariant(t *testing.T) {
	wheel := timingwheel.New(time.Millisecond, 64, nil)
	wheel.Start()
	defer wheel.Stop()

	checker := New(wheel, nil, Config{}, func() bool { return true },
		func(ev Event) { t.Fatal("no variant should fire when all durations are zero") },
		nil,
	)
	checker.Init()
	defer checker.Destroy()

	time.Sleep(20 * time.Millisecond)
}
