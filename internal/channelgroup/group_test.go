package channelgroup

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wanjg/Jupiter/internal/attach"
	"github.com/wanjg/Jupiter/internal/model"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:0" }

type fakeChannel struct {
	id      string
	active  bool
	attach  attach.Map
	onClose []func()
}

func (c *fakeChannel) ShortID() string          { return c.id }
func (c *fakeChannel) RemoteAddr() net.Addr     { return fakeAddr{} }
func (c *fakeChannel) IsActive() bool           { return c.active }
func (c *fakeChannel) Attachments() *attach.Map { return &c.attach }
func (c *fakeChannel) OnClose(f func())         { c.onClose = append(c.onClose, f) }
func (c *fakeChannel) Send([]byte) error        { return nil }
func (c *fakeChannel) close() {
	c.active = false
	for _, f := range c.onClose {
		f()
	}
}

func TestAddRemoveAndAutoRemoveOnClose(t *testing.T) {
	g := New(model.Address{Host: "10.0.0.1", Port: 20880})
	a := &fakeChannel{id: "a", active: true}
	b := &fakeChannel{id: "b", active: true}

	require.True(t, g.Add(a))
	require.True(t, g.Add(b))
	require.False(t, g.Add(a), "adding the same channel twice must be a no-op")
	require.Equal(t, 2, g.Size())

	a.close()
	require.Equal(t, 1, g.Size(), "closing a channel must auto-remove it from the group")
}

func TestNextRoundRobinsAcrossSnapshot(t *testing.T) {
	g := New(model.Address{Host: "10.0.0.1", Port: 20880})
	a := &fakeChannel{id: "a", active: true}
	b := &fakeChannel{id: "b", active: true}
	g.Add(a)
	g.Add(b)

	seen := map[Channel]int{}
	for i := 0; i < 20; i++ {
		ch, err := g.Next()
		require.NoError(t, err)
		seen[ch]++
	}
	require.Len(t, seen, 2, "round-robin across two channels must eventually pick both")
}

func TestNextSingleChannelAlwaysReturnsIt(t *testing.T) {
	g := New(model.Address{Host: "10.0.0.1", Port: 20880})
	a := &fakeChannel{id: "a", active: true}
	g.Add(a)

	for i := 0; i < 5; i++ {
		ch, err := g.Next()
		require.NoError(t, err)
		require.Same(t, a, ch)
	}
}

func TestNextOnEmptyGroupBacksOffThenErrors(t *testing.T) {
	g := New(model.Address{Host: "10.0.0.1", Port: 20880})
	start := time.Now()
	_, err := g.Next()
	require.ErrorIs(t, err, ErrNoChannelAvailable)
	require.GreaterOrEqual(t, time.Since(start), 1400*time.Millisecond, "Next must back off 200+400+800ms before erroring")
}
