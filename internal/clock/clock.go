// Package clock provides the monotonic millisecond timestamps the timing
// wheel and idle-state checker schedule against.
package clock

import "time"

// Clock returns monotonic milliseconds since an arbitrary epoch. Tests
// substitute a fake implementation to drive the timing wheel deterministically.
type Clock interface {
	NowMillis() int64
}

// epoch anchors System's readings; time.Since measures against its
// monotonic reading.
var epoch = time.Now()

// System is the production Clock, backed by time.Now's monotonic reading.
type System struct{}

func (System) NowMillis() int64 {
	return time.Since(epoch).Milliseconds()
}
