package channelgroup

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wanjg/Jupiter/internal/model"
)

// ErrNoChannelAvailable is raised by Next when a group has stayed empty
// across all of its retry attempts.
var ErrNoChannelAvailable = errors.New("channelgroup: no channel available")

// Group is an ordered, deduplicated set of live channels to one provider
// address. It owns no channels — it only indexes references, and removes
// one automatically once its close-listener fires. Group never blocks
// writers: the channel slice is swapped wholesale (copy-on-write) on every
// Add/Remove, so Snapshot/Next never contend with mutation.
type Group struct {
	Address model.Address

	mu       sync.Mutex // serializes Add/Remove read-modify-write
	channels atomic.Pointer[[]Channel]
	index    int64
}

// New builds an empty Group for address.
func New(address model.Address) *Group {
	g := &Group{Address: address}
	empty := make([]Channel, 0)
	g.channels.Store(&empty)
	return g
}

// Add appends ch if not already present, registering a close-listener that
// removes it automatically. Returns false if ch was already a member.
func (g *Group) Add(ch Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.channels.Load()
	for _, existing := range cur {
		if existing == ch {
			return false
		}
	}
	next := make([]Channel, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = ch
	g.channels.Store(&next)

	ch.OnClose(func() { g.Remove(ch) })
	return true
}

// Remove drops ch from the group. Returns false if it was not a member.
func (g *Group) Remove(ch Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := *g.channels.Load()
	idx := -1
	for i, existing := range cur {
		if existing == ch {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	next := make([]Channel, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	g.channels.Store(&next)
	return true
}

// Snapshot returns the current channel list. The returned slice is never
// mutated in place — callers may range over it freely.
func (g *Group) Snapshot() []Channel {
	return *g.channels.Load()
}

// Size returns the number of channels currently in the group.
func (g *Group) Size() int {
	return len(g.Snapshot())
}

// Empty reports whether the group currently has no channels.
func (g *Group) Empty() bool {
	return g.Size() == 0
}

// Next picks a channel to use for the next outbound request: the sole
// channel if there is exactly one, or a round-robin pick across the current
// snapshot otherwise. If the group is observed empty, Next backs off for
// 200ms, 400ms, then 800ms (100<<attempt ms for attempt in {1,2,3}) before
// raising ErrNoChannelAvailable; strict fairness across concurrent callers
// is not guaranteed, only long-run uniform distribution.
func (g *Group) Next() (Channel, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if snap := g.Snapshot(); len(snap) > 0 {
			return g.pick(snap), nil
		}
		time.Sleep(time.Duration(100<<uint(attempt+1)) * time.Millisecond)
	}
	snap := g.Snapshot()
	if len(snap) == 0 {
		return nil, ErrNoChannelAvailable
	}
	return g.pick(snap), nil
}

func (g *Group) pick(snap []Channel) Channel {
	n := int64(len(snap))
	if n == 1 {
		return snap[0]
	}
	idx := atomic.AddInt64(&g.index, 1)
	if idx < 0 {
		idx = -idx
	}
	return snap[idx%n]
}
