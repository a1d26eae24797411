package wire

import "github.com/wanjg/Jupiter/internal/model"

// Message is the decoded form of a PUBLISH_SERVICE / UN_PUBLISH_SERVICE /
// SUBSCRIBE_SERVICE frame. Data's concrete type depends on Sign and
// direction: model.RegisterMeta for an inbound publish/unpublish,
// model.ServiceMeta for an inbound subscribe, ProvidersPush for an outbound
// server push (which reuses the PUBLISH_SERVICE sign to carry the service
// together with its full provider list — see DESIGN.md).
type Message struct {
	Sign     Sign
	Sequence uint64
	Version  int64
	Data     any
}

// Acknowledge is the ACK body: the sequence number of the frame being
// acknowledged.
type Acknowledge struct {
	Sequence uint64 `json:"sequence"`
}

// ProvidersPush is the payload of a server push: the service and its full
// current provider list at Message.Version.
type ProvidersPush struct {
	Service   model.ServiceMeta    `json:"service"`
	Providers []model.RegisterMeta `json:"providers"`
}
