package registry

import (
	"sync"

	"github.com/wanjg/Jupiter/internal/attach"
	"github.com/wanjg/Jupiter/internal/channelgroup"
	"github.com/wanjg/Jupiter/internal/model"
)

// registerMetaSet is the PUBLISH_KEY attachment: every RegisterMeta a
// connection has published, used to drive implicit unpublish on
// disconnect.
type registerMetaSet struct {
	mu    sync.Mutex
	items map[model.RegisterMeta]struct{}
}

func newRegisterMetaSet() any {
	return &registerMetaSet{items: make(map[model.RegisterMeta]struct{})}
}

func (s *registerMetaSet) Add(m model.RegisterMeta) {
	s.mu.Lock()
	s.items[m] = struct{}{}
	s.mu.Unlock()
}

func (s *registerMetaSet) Remove(m model.RegisterMeta) {
	s.mu.Lock()
	delete(s.items, m)
	s.mu.Unlock()
}

func (s *registerMetaSet) Snapshot() []model.RegisterMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RegisterMeta, 0, len(s.items))
	for m := range s.items {
		out = append(out, m)
	}
	return out
}

// serviceMetaSet is the SUBSCRIBE_KEY attachment: every service a
// connection has subscribed to.
type serviceMetaSet struct {
	mu    sync.Mutex
	items map[model.ServiceMeta]struct{}
}

func newServiceMetaSet() any {
	return &serviceMetaSet{items: make(map[model.ServiceMeta]struct{})}
}

func (s *serviceMetaSet) Add(m model.ServiceMeta) {
	s.mu.Lock()
	s.items[m] = struct{}{}
	s.mu.Unlock()
}

func (s *serviceMetaSet) Contains(m model.ServiceMeta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[m]
	return ok
}

func publishSet(ch channelgroup.Channel) *registerMetaSet {
	return ch.Attachments().GetOrSet(attach.PublishKey, newRegisterMetaSet).(*registerMetaSet)
}

func subscribeSet(ch channelgroup.Channel) *serviceMetaSet {
	return ch.Attachments().GetOrSet(attach.SubscribeKey, newServiceMetaSet).(*serviceMetaSet)
}
