package dispatch

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wanjg/Jupiter/internal/attach"
	"github.com/wanjg/Jupiter/internal/channelgroup"
	"github.com/wanjg/Jupiter/internal/model"
	"github.com/wanjg/Jupiter/internal/wire"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:0" }

type fakeChannel struct {
	id     string
	attach attach.Map
	sent   [][]byte
	fail   bool
}

func (c *fakeChannel) ShortID() string          { return c.id }
func (c *fakeChannel) RemoteAddr() net.Addr     { return fakeAddr{} }
func (c *fakeChannel) IsActive() bool           { return true }
func (c *fakeChannel) Attachments() *attach.Map { return &c.attach }
func (c *fakeChannel) OnClose(func())           {}
func (c *fakeChannel) Send(frame []byte) error {
	if c.fail {
		return net.ErrClosed
	}
	c.sent = append(c.sent, frame)
	return nil
}

func testMessage() wire.Message {
	return wire.Message{
		Sign:    wire.SignPublishService,
		Version: 3,
		Data: wire.ProvidersPush{
			Service: model.ServiceMeta{Group: "rpc", Name: "OrderService", Version: "1.0"},
		},
	}
}

// Broadcast picks exactly one channel per non-empty group and writes the
// same encoded frame to each.
func TestBroadcastWritesOncePerGroup(t *testing.T) {
	directory := channelgroup.NewDirectory()
	addr1 := model.Address{Host: "10.0.0.1", Port: 20880}
	addr2 := model.Address{Host: "10.0.0.2", Port: 20880}

	g1 := directory.GroupFor(addr1)
	a1, a2 := &fakeChannel{id: "a1"}, &fakeChannel{id: "a2"}
	g1.Add(a1)
	g1.Add(a2)

	g2 := directory.GroupFor(addr2)
	b1 := &fakeChannel{id: "b1"}
	g2.Add(b1)

	d := NewDispatcher(directory, wire.JSONSerializer{}, zap.NewNop(), nil)
	futures := d.Broadcast(testMessage())

	require.Len(t, futures, 2)
	for _, f := range futures {
		require.True(t, f.Sent)
		require.NoError(t, f.Err)
	}
	require.Equal(t, 1, len(a1.sent)+len(a2.sent), "exactly one channel in g1 receives the frame")
	require.Len(t, b1.sent, 1)
}

// An empty group is skipped entirely rather than producing a future.
func TestBroadcastSkipsEmptyGroups(t *testing.T) {
	directory := channelgroup.NewDirectory()
	directory.GroupFor(model.Address{Host: "10.0.0.1", Port: 20880}) // never populated

	d := NewDispatcher(directory, wire.JSONSerializer{}, zap.NewNop(), nil)
	futures := d.Broadcast(testMessage())

	require.Empty(t, futures)
}

// The before hook fires once per successful send, and a failed send is
// reported on the future without invoking it.
func TestBroadcastBeforeHookAndSendFailure(t *testing.T) {
	directory := channelgroup.NewDirectory()
	addr := model.Address{Host: "10.0.0.1", Port: 20880}
	ch := &fakeChannel{id: "a1", fail: true}
	directory.GroupFor(addr).Add(ch)

	var hooked []string
	d := NewDispatcher(directory, wire.JSONSerializer{}, zap.NewNop(), func(ch channelgroup.Channel, frame []byte) {
		hooked = append(hooked, ch.ShortID())
	})
	futures := d.Broadcast(testMessage())

	require.Len(t, futures, 1)
	require.False(t, futures[0].Sent)
	require.Error(t, futures[0].Err)
	require.Empty(t, hooked, "before hook must not fire for a failed send")
}

// GroupFor exposes the same lazily-created group Broadcast reads from, so a
// caller can register channels before the first broadcast.
func TestGroupForReusesDirectoryGroup(t *testing.T) {
	directory := channelgroup.NewDirectory()
	d := NewDispatcher(directory, wire.JSONSerializer{}, zap.NewNop(), nil)

	addr := model.Address{Host: "10.0.0.1", Port: 20880}
	require.Same(t, directory.GroupFor(addr), d.GroupFor(addr))
}
