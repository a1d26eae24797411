// Package dispatch implements an illustrative broadcast fan-out over a
// channelgroup.Directory: pick one channel per address group with Next,
// encode the outbound message once, and write it to every chosen channel
// without waiting for or aggregating the individual sends.
package dispatch

import (
	"go.uber.org/zap"

	"github.com/wanjg/Jupiter/internal/channelgroup"
	"github.com/wanjg/Jupiter/internal/model"
	"github.com/wanjg/Jupiter/internal/wire"
)

// InvokeFuture tracks one per-channel send: sent reports whether the frame
// was handed to the channel's egress queue, and before, if set, is invoked
// immediately after that happens.
type InvokeFuture struct {
	Channel channelgroup.Channel
	Sent    bool
	Err     error
}

// BeforeHook is called for every channel a broadcast successfully enqueued
// to, after the send but before Broadcast returns.
type BeforeHook func(ch channelgroup.Channel, frame []byte)

// Dispatcher broadcasts one message across every address group in a
// Directory, picking a single representative channel per group via
// Group.Next rather than writing to every member of every group.
type Dispatcher struct {
	directory *channelgroup.Directory
	encoder   *wire.Encoder
	logger    *zap.Logger
	before    BeforeHook
}

// NewDispatcher builds a Dispatcher over directory. before is optional.
func NewDispatcher(directory *channelgroup.Directory, ser wire.Serializer, logger *zap.Logger, before BeforeHook) *Dispatcher {
	if ser == nil {
		ser = wire.JSONSerializer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		directory: directory,
		encoder:   wire.NewEncoder(ser),
		logger:    logger,
		before:    before,
	}
}

// Broadcast encodes msg once and writes it to one channel per non-empty
// group currently tracked by the directory. It returns no aggregate
// future: per-channel outcomes are reported through futures, addressed
// out-of-band by the caller, not awaited here.
func (d *Dispatcher) Broadcast(msg wire.Message) []InvokeFuture {
	frame, err := d.encoder.EncodeMessage(msg)
	if err != nil {
		d.logger.Error("broadcast encode failed", zap.Error(err))
		return nil
	}

	groups := d.directory.All()
	futures := make([]InvokeFuture, 0, len(groups))
	for _, g := range groups {
		if g.Empty() {
			continue
		}
		ch, err := g.Next()
		if err != nil {
			d.logger.Debug("broadcast: no channel available", zap.Stringer("address", g.Address), zap.Error(err))
			futures = append(futures, InvokeFuture{Err: err})
			continue
		}

		future := InvokeFuture{Channel: ch}
		if sendErr := ch.Send(frame); sendErr != nil {
			future.Err = sendErr
		} else {
			future.Sent = true
			if d.before != nil {
				d.before(ch, frame)
			}
		}
		futures = append(futures, future)
	}
	return futures
}

// GroupFor exposes the directory's lazy group lookup so callers can register
// channels against the same groups Broadcast reads from.
func (d *Dispatcher) GroupFor(address model.Address) *channelgroup.Group {
	return d.directory.GroupFor(address)
}
