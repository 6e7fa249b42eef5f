package venue

import "github.com/gateway/cex-gateway/pkg/types"

// SubKeyDescriptor adapts a types.SubscriptionKey into a wsclient.Descriptor
// so venue codecs can key subscriptions on the same value the rest of the
// gateway already uses (PublicConnector, cache dirty-tracking).
type SubKeyDescriptor struct {
	types.SubscriptionKey
}

// Key implements wsclient.Descriptor.
func (d SubKeyDescriptor) Key() string { return d.SubscriptionKey.String() }
