// Package channelgroup implements the equivalence class of live connections
// to one provider address, and the round-robin selector consumers use to
// pick one of them.
package channelgroup

import (
	"net"

	"github.com/wanjg/Jupiter/internal/attach"
)

// Channel abstracts one live connection far enough that ChannelGroup and the
// registry never depend on net.Conn or the transport package directly — the
// transport package provides the concrete implementation.
type Channel interface {
	// ShortID is the short per-connection identity used to build
	// pending-ack keys ("{sequence}-{channel-short-id}").
	ShortID() string
	RemoteAddr() net.Addr
	IsActive() bool
	// Send enqueues a fully framed message for write. It must not block;
	// a full egress buffer is the caller's signal to drop or back off.
	Send(frame []byte) error
	// OnClose registers a listener invoked exactly once when the channel
	// becomes inactive. Multiple listeners may be registered.
	OnClose(listener func())
	Attachments() *attach.Map
}
