package stream

import (
	"context"
	"time"

	"github.com/helmboard/helmboard/internal/protocol"
)

// DefaultKey is the sub-key used by single-cadence topics.
const DefaultKey = ""

// ProviderFunc produces a current snapshot of one sub-key's slice of a
// topic's data. The shaping parameters only affect rendering; they never
// change what is fetched.
type ProviderFunc func(ctx context.Context, subKey string, f protocol.Filters, shape Shaping) (any, error)

// Topic describes one class of streamed data. Topics are registered at
// startup and immutable for the process lifetime.
type Topic struct {
	// ID is the stable topic name used in message types ("disks", "vms", ...).
	ID string

	// Intervals maps sub-keys to their poll cadence. Single-cadence topics
	// register only DefaultKey. Each sub-key gets its own timer and
	// broadcasts only its own slice.
	Intervals map[string]time.Duration

	// Provider fetches snapshots.
	Provider ProviderFunc

	// Shaped marks topics whose snapshots are rendered per-client
	// (unit system, role visibility). Unshaped topics use one cache slot
	// per FilterKey.
	Shaped bool

	// DetectChanges enables hash-based suppression of identical broadcasts.
	DetectChanges bool

	// AdminOnly restricts subscriptions to the admin role.
	AdminOnly bool

	// AllowDevices and AllowName declare which filters the topic accepts.
	AllowDevices bool
	AllowName    bool
}

// IntervalsMS returns the cadences in milliseconds for the subscription
// confirmation payload.
func (t *Topic) IntervalsMS() map[string]int {
	out := make(map[string]int, len(t.Intervals))
	for k, d := range t.Intervals {
		out[k] = int(d / time.Millisecond)
	}
	return out
}
