package transport

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/wanjg/Jupiter/internal/attach"
	"github.com/wanjg/Jupiter/internal/idle"
)

// errSendQueueFull is returned by Connection.Send when the egress buffer is
// saturated; fan-out callers treat this as a dropped push, never a blocking
// wait — Send must always be a non-blocking enqueue.
var errSendQueueFull = &sendQueueFullError{}

type sendQueueFullError struct{}

func (*sendQueueFullError) Error() string { return "transport: send queue full" }

// Connection is the concrete channelgroup.Channel: one live TCP connection,
// its non-blocking egress queue, its per-connection attachments, and the
// close-listeners registered against it by ChannelGroup and the registry's
// subscriber bookkeeping.
type Connection struct {
	id   string
	conn net.Conn

	sendCh chan []byte

	closeOnce      sync.Once
	closed         int32 // atomic bool
	closeMu        sync.Mutex
	closeListeners []func()

	attachments attach.Map
	idleChecker *idle.Checker
}

func newConnection(id string, conn net.Conn, sendQueueSize int) *Connection {
	return &Connection{
		id:     id,
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
	}
}

// ShortID implements channelgroup.Channel.
func (c *Connection) ShortID() string { return c.id }

// RemoteAddr implements channelgroup.Channel.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// IsActive implements channelgroup.Channel.
func (c *Connection) IsActive() bool { return atomic.LoadInt32(&c.closed) == 0 }

// Attachments implements channelgroup.Channel.
func (c *Connection) Attachments() *attach.Map { return &c.attachments }

// OnClose implements channelgroup.Channel. If the connection is already
// closed, listener fires immediately rather than being queued forever.
func (c *Connection) OnClose(listener func()) {
	c.closeMu.Lock()
	if c.IsActive() {
		c.closeListeners = append(c.closeListeners, listener)
		c.closeMu.Unlock()
		return
	}
	c.closeMu.Unlock()
	listener()
}

// Send implements channelgroup.Channel: a non-blocking enqueue onto the
// connection's write goroutine.
func (c *Connection) Send(frame []byte) error {
	if !c.IsActive() {
		return net.ErrClosed
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close tears the connection down exactly once: marks it inactive, closes
// the egress queue and socket, destroys its idle checker, and fires every
// registered close-listener (which is how ChannelGroup and the registry's
// subscriber set learn the connection is gone).
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closed, 1)
		close(c.sendCh)
		_ = c.conn.Close()
		if c.idleChecker != nil {
			c.idleChecker.Destroy()
		}

		c.closeMu.Lock()
		listeners := c.closeListeners
		c.closeListeners = nil
		c.closeMu.Unlock()

		for _, l := range listeners {
			l()
		}
	})
}
