// Package model holds the registry's wire-visible data types: service
// identity, provider addresses, and the versioned container that pairs a
// value with the monotonic counter bumped on every effective mutation.
package model

import (
	"fmt"
	"sync/atomic"
)

// ServiceMeta identifies a service. Equality and hashing (via the Key
// method, used as a map key) depend only on Group, Name and Version.
type ServiceMeta struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Key returns the value used to key maps of ServiceMeta; ServiceMeta is a
// plain comparable struct so the value itself already works as a map key,
// but Key gives call sites a readable identity string for logs and ids.
func (s ServiceMeta) Key() string {
	return fmt.Sprintf("%s/%s/%s", s.Group, s.Name, s.Version)
}

func (s ServiceMeta) String() string { return s.Key() }

// Address is a provider's (host, port). Host may be empty at ingress; the
// registry server fills it in from the peer socket before storing.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// RegisterMeta is one provider record: the service it advertises, the
// address it is reachable at, and load-balancing metadata. Map identity is
// the Address within one ServiceMeta's provider map.
type RegisterMeta struct {
	Service   ServiceMeta `json:"service"`
	Address   Address     `json:"address"`
	Weight    int         `json:"weight"`
	ConnCount int         `json:"connCount"`
}

// ConfigWithVersion pairs a value with a monotonically increasing version.
// The zero value is a valid, empty, version-0 instance.
type ConfigWithVersion[T any] struct {
	version int64
	Value   T
}

// Version returns the current version without bumping it.
func (c *ConfigWithVersion[T]) Version() int64 {
	return atomic.LoadInt64(&c.version)
}

// NewVersion atomically increments and returns the new version. Callers
// must already hold the per-service monitor guarding Value's mutation.
func (c *ConfigWithVersion[T]) NewVersion() int64 {
	return atomic.AddInt64(&c.version, 1)
}
