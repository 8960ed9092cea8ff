// Package stream implements the real-time broadcast engine: topic
// descriptors, the subscription registry, the delta cache and the broadcast
// scheduler that drives periodic fetch → detect → send cycles.
package stream

import (
	"net/url"
	"sort"
	"strings"

	"github.com/helmboard/helmboard/internal/protocol"
)

// FilterKey is the canonical identity of "which slice of a topic" a
// subscriber wants. Subscribers with equal FilterKeys share one timer and
// one cache slot.
type FilterKey string

// ShapingKey is the canonical identity of "how to render" a slice for a
// subscriber (unit system, role visibility).
type ShapingKey string

// Shaping carries the parameters that affect rendering of a snapshot
// without affecting what data is fetched.
type Shaping struct {
	Units string // "binary" or "decimal"
	Role  string // role-derived visibility
}

// Key returns the canonical encoding of the shaping parameters.
// url.Values.Encode sorts by key, so equal shapings always encode equally.
func (s Shaping) Key() ShapingKey {
	if s == (Shaping{}) {
		return ""
	}
	v := url.Values{}
	if s.Units != "" {
		v.Set("units", s.Units)
	}
	if s.Role != "" {
		v.Set("role", s.Role)
	}
	return ShapingKey(v.Encode())
}

// NormalizeFilters returns a canonical copy of f: device lists are sorted
// and de-duplicated so equal filter sets produce equal keys.
func NormalizeFilters(f protocol.Filters) protocol.Filters {
	out := protocol.Filters{Name: strings.TrimSpace(f.Name)}
	if len(f.Devices) > 0 {
		seen := make(map[string]bool, len(f.Devices))
		for _, d := range f.Devices {
			d = strings.TrimSpace(d)
			if d != "" && !seen[d] {
				seen[d] = true
				out.Devices = append(out.Devices, d)
			}
		}
		sort.Strings(out.Devices)
	}
	return out
}

// KeyForFilters returns the canonical key for a normalized filter set.
func KeyForFilters(f protocol.Filters) FilterKey {
	v := url.Values{}
	for _, d := range f.Devices {
		v.Add("device", d)
	}
	if f.Name != "" {
		v.Set("name", f.Name)
	}
	return FilterKey(v.Encode())
}
