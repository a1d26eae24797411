package registry

import (
	"time"

	"go.uber.org/zap"

	"github.com/wanjg/Jupiter/internal/clock"
	"github.com/wanjg/Jupiter/internal/metrics"
	"github.com/wanjg/Jupiter/internal/wire"
)

const (
	scanInterval = 300 * time.Millisecond
	ackTimeout   = 10 * time.Second
)

// Retransmitter is a single daemon goroutine scanning the pending-ack map
// every 300ms, retransmitting or dropping entries older than 10s.
type Retransmitter struct {
	ctx     *RegistryContext
	pending *PendingAcks
	encoder *wire.Encoder
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Registry

	stopCh chan struct{}
	done   chan struct{}
}

// NewRetransmitter builds a Retransmitter over the shared RegistryContext
// and PendingAcks map. Call Start to launch its scan goroutine.
func NewRetransmitter(ctx *RegistryContext, pending *PendingAcks, ser wire.Serializer, clk clock.Clock, logger *zap.Logger, metricsRegistry *metrics.Registry) *Retransmitter {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retransmitter{
		ctx:     ctx,
		pending: pending,
		encoder: wire.NewEncoder(ser),
		clock:   clk,
		logger:  logger,
		metrics: metricsRegistry,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the scan loop on its own goroutine.
func (r *Retransmitter) Start() {
	go r.loop()
}

// Stop halts the scan loop and waits for it to exit.
func (r *Retransmitter) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Retransmitter) loop() {
	defer close(r.done)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.scanOnce()
		}
	}
}

func (r *Retransmitter) scanOnce() {
	now := r.clock.NowMillis()
	ttlMillis := ackTimeout.Milliseconds()

	var stale []string
	r.pending.Range(func(id string, e *pendingEntry) bool {
		if now-e.timestamp > ttlMillis {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		r.processStale(id)
	}
}

// processStale claims one stale entry, decides whether to drop or resend
// it, and recovers from any panic so the scanner's loop never dies.
func (r *Retransmitter) processStale(id string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("retransmit scan recovered from panic", zap.Any("panic", rec))
		}
	}()

	entry, claimed := r.pending.Remove(id)
	if !claimed {
		// Already acked, or claimed by a concurrent scan pass.
		return
	}

	if r.ctx.Version(entry.service) > entry.version {
		// A newer publish/unpublish already superseded this push:
		// drop it rather than resending a stale version.
		if r.metrics != nil {
			r.metrics.Acks.StaleDrops.Inc()
			r.metrics.Acks.PendingPushes.Set(float64(r.pending.Len()))
		}
		return
	}

	if !entry.channel.IsActive() {
		return
	}

	// Always resend entry.message, the original push payload — not the
	// pending-ack record that wraps it, which the encoder has no case
	// for.
	frame, err := r.encoder.EncodeMessage(entry.message)
	if err != nil {
		r.logger.Error("retransmit encode failed", zap.Error(err), zap.String("id", id))
		return
	}
	if err := entry.channel.Send(frame); err != nil {
		r.logger.Debug("retransmit send failed", zap.Error(err), zap.String("id", id))
		return
	}

	entry.timestamp = r.clock.NowMillis()
	r.pending.put(entry)
	if r.metrics != nil {
		r.metrics.Acks.Retransmits.Inc()
		r.metrics.Acks.PendingPushes.Set(float64(r.pending.Len()))
	}
}
