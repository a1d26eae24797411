package timingwheel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeoutFiresAfterDelay(t *testing.T) {
	w := New(time.Millisecond, 64, nil)
	w.Start()
	defer w.Stop()

	fired := make(chan struct{}, 1)
	w.NewTimeout(func() { fired <- struct{}{} }, 10*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout did not fire")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	w := New(time.Millisecond, 64, nil)
	w.Start()
	defer w.Stop()

	var fired int32
	timeout := w.NewTimeout(func() { atomic.StoreInt32(&fired, 1) }, 20*time.Millisecond)

	ok := timeout.Cancel()
	require.True(t, ok)
	require.True(t, timeout.IsCancelled())

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestCancelAfterFireReturnsFalse(t *testing.T) {
	w := New(time.Millisecond, 64, nil)
	w.Start()
	defer w.Stop()

	fired := make(chan struct{})
	timeout := w.NewTimeout(func() { close(fired) }, 5*time.Millisecond)

	<-fired
	time.Sleep(5 * time.Millisecond) // let the wheel finish bookkeeping
	require.False(t, timeout.Cancel())
}

func TestDelaySpanningMultipleRounds(t *testing.T) {
	// wheelSize*tickDuration is the wheel's full rotation; scheduling past
	// that must still fire via the round counter rather than early.
	w := New(time.Millisecond, 8, nil)
	w.Start()
	defer w.Stop()

	start := time.Now()
	fired := make(chan struct{})
	w.NewTimeout(func() { close(fired) }, 30*time.Millisecond)

	select {
	case <-fired:
		require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	case <-time.After(300 * time.Millisecond):
		t.Fatal("multi-round timeout never fired")
	}
}
