package channelgroup

import (
	"sync"

	"github.com/wanjg/Jupiter/internal/model"
)

// Directory indexes one Group per provider address, creating groups lazily.
// Consumers (e.g. the broadcast dispatcher) use it to find or create the
// group for an address before calling Next.
type Directory struct {
	groups sync.Map // model.Address -> *Group
}

// NewDirectory builds an empty Directory.
func NewDirectory() *Directory {
	return &Directory{}
}

// GroupFor returns the Group for address, creating an empty one on first
// access.
func (d *Directory) GroupFor(address model.Address) *Group {
	if g, ok := d.groups.Load(address); ok {
		return g.(*Group)
	}
	g := New(address)
	actual, _ := d.groups.LoadOrStore(address, g)
	return actual.(*Group)
}

// All returns every group currently tracked, regardless of size.
func (d *Directory) All() []*Group {
	var out []*Group
	d.groups.Range(func(_ any, v any) bool {
		out = append(out, v.(*Group))
		return true
	})
	return out
}
