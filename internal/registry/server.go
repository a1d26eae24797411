package registry

import (
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wanjg/Jupiter/internal/attach"
	"github.com/wanjg/Jupiter/internal/channelgroup"
	"github.com/wanjg/Jupiter/internal/clock"
	"github.com/wanjg/Jupiter/internal/metrics"
	"github.com/wanjg/Jupiter/internal/model"
	"github.com/wanjg/Jupiter/internal/wire"
)

// Server is the RegistryServer: it handles one decoded frame from one
// connection at a time, mutating a RegistryContext and fanning pushes out
// to subscribers.
type Server struct {
	ctx     *RegistryContext
	pending *PendingAcks
	encoder *wire.Encoder
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Registry

	subscribers sync.Map // channelgroup.Channel -> struct{}
	sequence    int64    // atomic; sequence numbers the server assigns to its own pushes
}

// NewServer builds a registry Server over a shared RegistryContext and
// PendingAcks map (both are process-wide singletons owned by the caller,
// never package-level globals — see DESIGN.md).
func NewServer(ctx *RegistryContext, pending *PendingAcks, ser wire.Serializer, clk clock.Clock, logger *zap.Logger, metricsRegistry *metrics.Registry) *Server {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ctx:     ctx,
		pending: pending,
		encoder: wire.NewEncoder(ser),
		clock:   clk,
		logger:  logger,
		metrics: metricsRegistry,
	}
}

// HandleFrame dispatches one decoded inbound frame from ch. Every inbound
// publish/unpublish/subscribe is ACKed immediately, before the registry
// processes its effects, so the sender can release its own pending-ack
// bookkeeping without waiting on fan-out.
func (s *Server) HandleFrame(frame wire.Frame, ch channelgroup.Channel) {
	switch {
	case frame.Message != nil:
		s.sendAck(frame.Message.Sequence, ch)
		s.dispatchMessage(*frame.Message, ch)
	case frame.Ack != nil:
		s.HandleAcknowledge(*frame.Ack, ch)
	default:
		// Heartbeat: no message produced by the decoder, nothing to do.
	}
}

func (s *Server) dispatchMessage(msg wire.Message, ch channelgroup.Channel) {
	switch msg.Sign {
	case wire.SignPublishService:
		meta, ok := msg.Data.(model.RegisterMeta)
		if !ok {
			s.logger.Warn("publish message carried unexpected payload type")
			return
		}
		s.handlePublishFrame(meta, ch)
	case wire.SignUnPublishService:
		meta, ok := msg.Data.(model.RegisterMeta)
		if !ok {
			s.logger.Warn("unpublish message carried unexpected payload type")
			return
		}
		s.handleUnpublishFrame(meta, ch)
	case wire.SignSubscribeService:
		svc, ok := msg.Data.(model.ServiceMeta)
		if !ok {
			s.logger.Warn("subscribe message carried unexpected payload type")
			return
		}
		s.HandleSubscribe(svc, ch)
	default:
		s.logger.Warn("unhandled message sign", zap.Stringer("sign", msg.Sign))
	}
}

func (s *Server) handlePublishFrame(meta model.RegisterMeta, ch channelgroup.Channel) {
	meta, ok := s.backfillHost(meta, ch)
	if !ok {
		s.logger.Warn("dropping publish: peer address is not an IP socket",
			zap.String("service", meta.Service.Key()))
		return
	}
	s.HandlePublish(meta, ch)
}

func (s *Server) handleUnpublishFrame(meta model.RegisterMeta, ch channelgroup.Channel) {
	meta, ok := s.backfillHost(meta, ch)
	if !ok {
		s.logger.Warn("dropping unpublish: peer address is not an IP socket",
			zap.String("service", meta.Service.Key()))
		return
	}
	s.HandleUnpublish(meta, ch)
}

// backfillHost fills meta.Address.Host from ch's peer socket when the
// client sent an empty host. ok is false when the peer isn't an IP socket,
// in which case the publish is dropped (logged by the caller).
func (s *Server) backfillHost(meta model.RegisterMeta, ch channelgroup.Channel) (model.RegisterMeta, bool) {
	if meta.Address.Host != "" {
		return meta, true
	}
	tcpAddr, ok := ch.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return meta, false
	}
	meta.Address.Host = tcpAddr.IP.String()
	return meta, true
}

// HandlePublish registers meta against the provider set it advertises.
// Publishing an already-present address is a no-op: no version bump, no
// fan-out. The fan-out itself runs inside PublishAndNotify, while the
// service's per-service monitor is still held, so that two concurrent
// publishes to the same service can never have their pushes reach a
// subscriber out of version order.
func (s *Server) HandlePublish(meta model.RegisterMeta, ch channelgroup.Channel) {
	publishSet(ch).Add(meta)

	_, _, changed := s.ctx.PublishAndNotify(meta, func(version int64, providers map[model.Address]model.RegisterMeta) {
		s.fanOut(meta.Service, version, ProviderList(providers))
	})
	if !changed {
		return
	}
	if s.metrics != nil {
		s.metrics.Services.Publishes.Inc()
		s.updateTrackedGauges()
	}
}

// HandleUnpublish removes meta from the provider set it advertises, fanning
// out under the same per-service monitor as HandlePublish.
func (s *Server) HandleUnpublish(meta model.RegisterMeta, ch channelgroup.Channel) {
	publishSet(ch).Remove(meta)

	_, _, changed := s.ctx.UnpublishAndNotify(meta, func(version int64, providers map[model.Address]model.RegisterMeta) {
		s.fanOut(meta.Service, version, ProviderList(providers))
	})
	if !changed {
		return
	}
	if s.metrics != nil {
		s.metrics.Services.Unpublishes.Inc()
		s.updateTrackedGauges()
	}
}

// HandleSubscribe registers ch against service and sends the current
// provider snapshot, at the current version, without bumping it.
func (s *Server) HandleSubscribe(service model.ServiceMeta, ch channelgroup.Channel) {
	subscribeSet(ch).Add(service)
	if _, loaded := s.subscribers.LoadOrStore(ch, struct{}{}); !loaded {
		ch.OnClose(func() { s.subscribers.Delete(ch) })
	}
	if s.metrics != nil {
		s.metrics.Services.Subscribes.Inc()
	}

	version, providers := s.ctx.Snapshot(service)
	if len(providers) == 0 {
		return
	}
	s.sendPush(ch, service, version, ProviderList(providers))
}

// HandleAcknowledge clears the pending-ack entry the ack refers to.
func (s *Server) HandleAcknowledge(ack wire.Acknowledge, ch channelgroup.Channel) {
	s.pending.Remove(pendingID(ack.Sequence, ch))
	s.updatePendingGauge()
}

// ChannelInactive treats every meta the connection published as implicitly
// unpublished. Subscriber
// bookkeeping is removed by the OnClose listener registered in
// HandleSubscribe, not here.
func (s *Server) ChannelInactive(ch channelgroup.Channel) {
	if v, ok := ch.Attachments().Get(attach.PublishKey); ok {
		for _, meta := range v.(*registerMetaSet).Snapshot() {
			s.HandleUnpublish(meta, ch)
		}
	}
}

// fanOut sends service's new provider list, at version, to every channel
// currently subscribed to service.
func (s *Server) fanOut(service model.ServiceMeta, version int64, providers []model.RegisterMeta) {
	s.subscribers.Range(func(key, _ any) bool {
		ch := key.(channelgroup.Channel)
		if !ch.IsActive() {
			return true
		}
		if !subscribeSet(ch).Contains(service) {
			return true
		}
		s.sendPush(ch, service, version, providers)
		return true
	})
}

func (s *Server) sendPush(ch channelgroup.Channel, service model.ServiceMeta, version int64, providers []model.RegisterMeta) {
	seq := uint64(atomic.AddInt64(&s.sequence, 1))
	msg := wire.Message{
		Sign:     wire.SignPublishService,
		Sequence: seq,
		Version:  version,
		Data:     wire.ProvidersPush{Service: service, Providers: providers},
	}

	id := pendingID(seq, ch)
	s.pending.put(&pendingEntry{
		id:        id,
		service:   service,
		message:   msg,
		channel:   ch,
		version:   version,
		timestamp: s.clock.NowMillis(),
	})
	s.updatePendingGauge()

	frame, err := s.encoder.EncodeMessage(msg)
	if err != nil {
		s.logger.Error("encode push failed", zap.Error(err))
		s.pending.Remove(id)
		s.updatePendingGauge()
		return
	}
	if err := ch.Send(frame); err != nil {
		s.logger.Debug("send push failed", zap.Error(err), zap.String("service", service.Key()))
		return
	}
	if s.metrics != nil {
		s.metrics.Acks.PushesSent.Inc()
	}
}

func (s *Server) sendAck(sequence uint64, ch channelgroup.Channel) {
	frame, err := s.encoder.EncodeAck(sequence)
	if err != nil {
		s.logger.Error("encode ack failed", zap.Error(err))
		return
	}
	if err := ch.Send(frame); err != nil {
		s.logger.Debug("send ack failed", zap.Error(err))
	}
}

func (s *Server) updatePendingGauge() {
	if s.metrics != nil {
		s.metrics.Acks.PendingPushes.Set(float64(s.pending.Len()))
	}
}

func (s *Server) updateTrackedGauges() {
	services, providers := s.ctx.Counts()
	s.metrics.Services.TrackedServices.Set(float64(services))
	s.metrics.Services.TrackedProviders.Set(float64(providers))
}
