package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wanjg/Jupiter/internal/model"
)

func svc(name string) model.ServiceMeta {
	return model.ServiceMeta{Group: "rpc", Name: name, Version: "1.0"}
}

func meta(name, host string, port int) model.RegisterMeta {
	return model.RegisterMeta{Service: svc(name), Address: model.Address{Host: host, Port: port}}
}

// A service's version increases strictly on every effective mutation.
func TestPublishBumpsVersionMonotonically(t *testing.T) {
	ctx := NewRegistryContext()
	s := svc("OrderService")

	v0 := ctx.Version(s)
	require.Equal(t, int64(0), v0)

	_, _, changed := ctx.Publish(meta("OrderService", "10.0.0.1", 20880))
	require.True(t, changed)
	v1 := ctx.Version(s)
	require.Greater(t, v1, v0)

	_, _, changed = ctx.Publish(meta("OrderService", "10.0.0.2", 20880))
	require.True(t, changed)
	v2 := ctx.Version(s)
	require.Greater(t, v2, v1)
}

// Publishing the same (service, address) twice is a no-op — no version
// bump, no duplicate entry.
func TestDuplicatePublishIsIdempotent(t *testing.T) {
	ctx := NewRegistryContext()
	m := meta("OrderService", "10.0.0.1", 20880)

	_, _, changed := ctx.Publish(m)
	require.True(t, changed)
	v1 := ctx.Version(m.Service)

	_, providers, changed := ctx.Publish(m)
	require.False(t, changed)
	require.Equal(t, v1, ctx.Version(m.Service))
	require.Len(t, providers, 1)
}

// The address->services inverse index stays consistent with the
// service->address provider maps, in both directions.
func TestPublishUnpublishKeepsInverseIndexConsistent(t *testing.T) {
	ctx := NewRegistryContext()
	addr := model.Address{Host: "10.0.0.1", Port: 20880}
	m1 := meta("OrderService", addr.Host, addr.Port)
	m2 := meta("PaymentService", addr.Host, addr.Port)

	ctx.Publish(m1)
	ctx.Publish(m2)

	services := ctx.ServicesFor(addr)
	require.ElementsMatch(t, []model.ServiceMeta{m1.Service, m2.Service}, services)

	_, providers, changed := ctx.Unpublish(m1)
	require.True(t, changed)
	require.NotContains(t, providers, addr)

	services = ctx.ServicesFor(addr)
	require.ElementsMatch(t, []model.ServiceMeta{m2.Service}, services)
}

func TestUnpublishUnknownAddressIsNoop(t *testing.T) {
	ctx := NewRegistryContext()
	m := meta("OrderService", "10.0.0.1", 20880)

	_, _, changed := ctx.Unpublish(m)
	require.False(t, changed)
	require.Equal(t, int64(0), ctx.Version(m.Service))
}

func TestSnapshotReturnsDefensiveCopy(t *testing.T) {
	ctx := NewRegistryContext()
	m := meta("OrderService", "10.0.0.1", 20880)
	ctx.Publish(m)

	_, providers := ctx.Snapshot(m.Service)
	delete(providers, m.Address)

	_, providers2 := ctx.Snapshot(m.Service)
	require.Len(t, providers2, 1, "mutating a returned snapshot must not affect registry state")
}
