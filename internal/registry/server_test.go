package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wanjg/Jupiter/internal/model"
	"github.com/wanjg/Jupiter/internal/wire"
)

func newTestServer() (*Server, *RegistryContext, *PendingAcks) {
	ctx := NewRegistryContext()
	pending := NewPendingAcks()
	s := NewServer(ctx, pending, wire.JSONSerializer{}, nil, zap.NewNop(), nil)
	return s, ctx, pending
}

// A subscriber registered before a publish receives the provider list on
// the next fan-out, at the bumped version.
func TestPublishFansOutToSubscribers(t *testing.T) {
	s, _, _ := newTestServer()
	sub := newFakeChannel("sub1")
	provider := newFakeChannel("prov1")

	service := svc("OrderService")
	s.HandleSubscribe(service, sub)
	require.Empty(t, sub.sent, "subscribing before any publish sends no snapshot")

	m := meta("OrderService", "10.0.0.1", 20880)
	s.HandlePublish(m, provider)

	require.Len(t, sub.sent, 1)
	_, version, push, err := wire.DecodePushBody(wire.JSONSerializer{}, sub.sent[0][wire.HeaderLength:])
	require.NoError(t, err)
	require.Equal(t, int64(1), version)
	require.Equal(t, []model.RegisterMeta{m}, push.Providers)
}

// HandleSubscribe immediately pushes the current snapshot when providers
// already exist.
func TestSubscribeSendsExistingSnapshot(t *testing.T) {
	s, _, _ := newTestServer()
	provider := newFakeChannel("prov1")
	m := meta("OrderService", "10.0.0.1", 20880)
	s.HandlePublish(m, provider)

	sub := newFakeChannel("sub1")
	s.HandleSubscribe(m.Service, sub)

	require.Len(t, sub.sent, 1)
}

// Duplicate publish from the same channel produces no additional fan-out,
// observed end-to-end through the server.
func TestDuplicatePublishProducesNoExtraFanOut(t *testing.T) {
	s, _, _ := newTestServer()
	sub := newFakeChannel("sub1")
	provider := newFakeChannel("prov1")
	m := meta("OrderService", "10.0.0.1", 20880)

	s.HandleSubscribe(m.Service, sub)
	s.HandlePublish(m, provider)
	require.Len(t, sub.sent, 1)

	s.HandlePublish(m, provider)
	require.Len(t, sub.sent, 1, "re-publishing the same address must not fan out again")
}

// ChannelInactive implicitly unpublishes everything the connection
// published, fanning the updated (now-empty) provider list out.
func TestChannelInactiveUnpublishesOwnedRecords(t *testing.T) {
	s, ctx, _ := newTestServer()
	sub := newFakeChannel("sub1")
	provider := newFakeChannel("prov1")
	m := meta("OrderService", "10.0.0.1", 20880)

	s.HandleSubscribe(m.Service, sub)
	s.HandlePublish(m, provider)
	require.Len(t, sub.sent, 1)

	s.ChannelInactive(provider)

	_, providers := ctx.Snapshot(m.Service)
	require.Empty(t, providers)
	require.Len(t, sub.sent, 2, "the implicit unpublish must fan out an updated snapshot")
}

// HandleAcknowledge removes the matching pending-ack entry.
func TestAcknowledgeRemovesPendingEntry(t *testing.T) {
	s, _, pending := newTestServer()
	sub := newFakeChannel("sub1")
	provider := newFakeChannel("prov1")
	m := meta("OrderService", "10.0.0.1", 20880)

	s.HandleSubscribe(m.Service, sub)
	s.HandlePublish(m, provider)
	require.Equal(t, 1, pending.Len())

	s.HandleAcknowledge(wire.Acknowledge{Sequence: 1}, sub)
	require.Equal(t, 0, pending.Len())
}

// Concurrent publishes to the same service from different provider
// connections must still reach one subscriber in strictly increasing
// version order: the per-service monitor now stays held across both the
// version bump and the fan-out, so a later-versioned push can never
// overtake an earlier one on its way to a subscriber's queue.
func TestConcurrentPublishesFanOutInVersionOrder(t *testing.T) {
	s, _, _ := newTestServer()
	sub := newFakeChannel("sub1")
	service := svc("OrderService")
	s.HandleSubscribe(service, sub)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			provider := newFakeChannel(fmt.Sprintf("prov%d", i))
			m := meta("OrderService", fmt.Sprintf("10.0.0.%d", i+1), 20880)
			s.HandlePublish(m, provider)
		}(i)
	}
	wg.Wait()

	require.Len(t, sub.sent, n)
	var lastVersion int64
	for _, frame := range sub.sent {
		_, version, _, err := wire.DecodePushBody(wire.JSONSerializer{}, frame[wire.HeaderLength:])
		require.NoError(t, err)
		require.Greater(t, version, lastVersion, "push versions observed by one subscriber must be strictly increasing")
		lastVersion = version
	}
}

func TestBackfillHostFromPeerAddress(t *testing.T) {
	s, _, _ := newTestServer()
	ch := newFakeChannel("prov1")
	m := model.RegisterMeta{Service: svc("OrderService"), Address: model.Address{Port: 20880}}

	filled, ok := s.backfillHost(m, ch)
	require.False(t, ok, "fakeChannel's RemoteAddr is not a *net.TCPAddr")
	require.Empty(t, filled.Address.Host)
}
