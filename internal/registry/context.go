// Package registry implements the registry state machine: the versioned
// per-service provider maps, the publish/unpublish/subscribe handlers that
// mutate them and fan out changes, and the ack/retransmit loop that makes
// delivery at-least-once.
package registry

import (
	"sync"

	"github.com/wanjg/Jupiter/internal/model"
)

// serviceEntry is one service's versioned provider map, guarded by its own
// monitor so that mutation of one service never blocks another: per-service mutation is
// serialized by a per-service monitor, never a single global lock.
type serviceEntry struct {
	mu  sync.Mutex
	cfg model.ConfigWithVersion[map[model.Address]model.RegisterMeta]
}

// addressEntry is the inverse index: which services a given address
// currently exposes. Guarded independently of serviceEntry so that the two
// maps in RegistryContext never need a single global lock.
type addressEntry struct {
	mu       sync.Mutex
	services map[model.ServiceMeta]struct{}
}

// RegistryContext is the thread-safe `service -> (address -> meta)` store
// plus its `address -> services` inverse.
// Service and address entries are created lazily on first access and are
// never removed.
type RegistryContext struct {
	services  sync.Map // model.ServiceMeta -> *serviceEntry
	addresses sync.Map // model.Address -> *addressEntry
}

// NewRegistryContext builds an empty RegistryContext.
func NewRegistryContext() *RegistryContext {
	return &RegistryContext{}
}

func (c *RegistryContext) serviceEntryFor(s model.ServiceMeta) *serviceEntry {
	if v, ok := c.services.Load(s); ok {
		return v.(*serviceEntry)
	}
	fresh := &serviceEntry{}
	fresh.cfg.Value = make(map[model.Address]model.RegisterMeta)
	actual, _ := c.services.LoadOrStore(s, fresh)
	return actual.(*serviceEntry)
}

func (c *RegistryContext) addressEntryFor(a model.Address) *addressEntry {
	if v, ok := c.addresses.Load(a); ok {
		return v.(*addressEntry)
	}
	fresh := &addressEntry{services: make(map[model.ServiceMeta]struct{})}
	actual, _ := c.addresses.LoadOrStore(a, fresh)
	return actual.(*addressEntry)
}

// Version returns s's current version without creating a new one.
func (c *RegistryContext) Version(s model.ServiceMeta) int64 {
	return c.serviceEntryFor(s).cfg.Version()
}

// Snapshot returns s's current version together with a defensive copy of
// its provider map. Reads may proceed without the monitor except for the
// copy itself, which briefly takes it to guarantee the version and the
// contents returned are paired consistently.
func (c *RegistryContext) Snapshot(s model.ServiceMeta) (version int64, providers map[model.Address]model.RegisterMeta) {
	e := c.serviceEntryFor(s)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Version(), cloneProviders(e.cfg.Value)
}

// Publish adds meta's address to its service's provider map if absent.
// changed is false (a no-op: no version bump) if the address was already
// present. Publishing the same address twice is intentionally a no-op.
func (c *RegistryContext) Publish(meta model.RegisterMeta) (version int64, providers map[model.Address]model.RegisterMeta, changed bool) {
	return c.publish(meta, nil)
}

// PublishAndNotify behaves like Publish, but if the publish is effective it
// calls notify with the bumped version and the new provider snapshot before
// releasing the service's per-service monitor. This lets a caller's fan-out
// run under the same lock that serializes the version bump, so two
// concurrent publishes to the same service can never have their fan-outs
// observed out of version order by a subscriber.
func (c *RegistryContext) PublishAndNotify(meta model.RegisterMeta, notify func(version int64, providers map[model.Address]model.RegisterMeta)) (version int64, providers map[model.Address]model.RegisterMeta, changed bool) {
	return c.publish(meta, notify)
}

func (c *RegistryContext) publish(meta model.RegisterMeta, notify func(int64, map[model.Address]model.RegisterMeta)) (version int64, providers map[model.Address]model.RegisterMeta, changed bool) {
	e := c.serviceEntryFor(meta.Service)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.cfg.Value[meta.Address]; exists {
		return e.cfg.Version(), cloneProviders(e.cfg.Value), false
	}
	e.cfg.Value[meta.Address] = meta

	ae := c.addressEntryFor(meta.Address)
	ae.mu.Lock()
	ae.services[meta.Service] = struct{}{}
	ae.mu.Unlock()

	version = e.cfg.NewVersion()
	providers = cloneProviders(e.cfg.Value)
	if notify != nil {
		notify(version, providers)
	}
	return version, providers, true
}

// Unpublish removes meta.Address from meta.Service's provider map if
// present. changed is false if the address was not present (no version
// bump).
func (c *RegistryContext) Unpublish(meta model.RegisterMeta) (version int64, providers map[model.Address]model.RegisterMeta, changed bool) {
	return c.unpublish(meta, nil)
}

// UnpublishAndNotify behaves like Unpublish, but if the unpublish is
// effective it calls notify with the bumped version and the new provider
// snapshot before releasing the service's per-service monitor, for the same
// reason PublishAndNotify does.
func (c *RegistryContext) UnpublishAndNotify(meta model.RegisterMeta, notify func(version int64, providers map[model.Address]model.RegisterMeta)) (version int64, providers map[model.Address]model.RegisterMeta, changed bool) {
	return c.unpublish(meta, notify)
}

func (c *RegistryContext) unpublish(meta model.RegisterMeta, notify func(int64, map[model.Address]model.RegisterMeta)) (version int64, providers map[model.Address]model.RegisterMeta, changed bool) {
	e := c.serviceEntryFor(meta.Service)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.cfg.Value[meta.Address]; !exists {
		return e.cfg.Version(), cloneProviders(e.cfg.Value), false
	}
	delete(e.cfg.Value, meta.Address)

	ae := c.addressEntryFor(meta.Address)
	ae.mu.Lock()
	delete(ae.services, meta.Service)
	ae.mu.Unlock()

	version = e.cfg.NewVersion()
	providers = cloneProviders(e.cfg.Value)
	if notify != nil {
		notify(version, providers)
	}
	return version, providers, true
}

// ServicesFor returns the services currently exposed at address a, via the
// address->services inverse index.
func (c *RegistryContext) ServicesFor(a model.Address) []model.ServiceMeta {
	v, ok := c.addresses.Load(a)
	if !ok {
		return nil
	}
	ae := v.(*addressEntry)
	ae.mu.Lock()
	defer ae.mu.Unlock()
	out := make([]model.ServiceMeta, 0, len(ae.services))
	for s := range ae.services {
		out = append(out, s)
	}
	return out
}

// Counts returns the number of distinct services with a lazily-created
// entry, and the number of distinct provider addresses registered across
// all of them. Used only for the ambient observability gauges; never on
// any invariant-checking path.
func (c *RegistryContext) Counts() (services int, providers int) {
	c.services.Range(func(_, _ any) bool {
		services++
		return true
	})
	c.addresses.Range(func(_, v any) bool {
		ae := v.(*addressEntry)
		ae.mu.Lock()
		if len(ae.services) > 0 {
			providers++
		}
		ae.mu.Unlock()
		return true
	})
	return services, providers
}

func cloneProviders(in map[model.Address]model.RegisterMeta) map[model.Address]model.RegisterMeta {
	out := make(map[model.Address]model.RegisterMeta, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ProviderList flattens a provider map into the slice form the wire push
// payload carries. Order is unspecified.
func ProviderList(providers map[model.Address]model.RegisterMeta) []model.RegisterMeta {
	out := make([]model.RegisterMeta, 0, len(providers))
	for _, m := range providers {
		out = append(out, m)
	}
	return out
}
