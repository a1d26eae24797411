package registry

import (
	"fmt"
	"sync"

	"github.com/wanjg/Jupiter/internal/channelgroup"
	"github.com/wanjg/Jupiter/internal/model"
	"github.com/wanjg/Jupiter/internal/wire"
)

// pendingEntry is a MessageNonAck: a server push awaiting the client's ACK.
type pendingEntry struct {
	id        string
	service   model.ServiceMeta
	message   wire.Message
	channel   channelgroup.Channel
	version   int64
	timestamp int64 // ms, per the injected clock
}

func pendingID(sequence uint64, ch channelgroup.Channel) string {
	return fmt.Sprintf("%d-%s", sequence, ch.ShortID())
}

// PendingAcks is the concurrent `messagesNonAck` map: put/remove/iteration
// must each be independently thread-safe, and the scanner must atomically
// claim an entry (LoadAndDelete) before it may reprocess it.
type PendingAcks struct {
	m sync.Map // string -> *pendingEntry
}

// NewPendingAcks builds an empty PendingAcks map.
func NewPendingAcks() *PendingAcks {
	return &PendingAcks{}
}

func (p *PendingAcks) put(e *pendingEntry) {
	p.m.Store(e.id, e)
}

// Remove atomically claims and removes the entry for id, returning false if
// it had already been claimed (by an ACK or a concurrent scan pass).
func (p *PendingAcks) Remove(id string) (*pendingEntry, bool) {
	v, ok := p.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingEntry), true
}

// Range iterates every currently pending entry. f must not block.
func (p *PendingAcks) Range(f func(id string, e *pendingEntry) bool) {
	p.m.Range(func(k, v any) bool {
		return f(k.(string), v.(*pendingEntry))
	})
}

// Len reports how many pushes are currently unacknowledged; used for the
// registry's pending-ack gauge.
func (p *PendingAcks) Len() int {
	n := 0
	p.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
