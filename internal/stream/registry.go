package stream

import (
	"sync"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
)

// Subscription records one subscriber's membership in a topic room.
// Owned exclusively by the Registry; the scheduler reads it but never
// mutates anything except the priming flags.
type Subscription struct {
	Topic        string
	SubscriberID string
	Filters      protocol.Filters
	FilterKey    FilterKey
	Shaping      Shaping
	ShapingKey   ShapingKey
	User         *auth.UserContext

	mu     sync.Mutex
	primed map[string]bool // sub-key → initial snapshot delivered
}

// Primed reports whether the subscriber has received its first snapshot for
// the given sub-key. Unprimed subscribers are exempt from change-detection
// suppression.
func (s *Subscription) Primed(subKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primed[subKey]
}

// MarkPrimed records that the first snapshot for a sub-key was sent.
func (s *Subscription) MarkPrimed(subKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primed[subKey] = true
}

// Registry tracks active subscriptions per topic. It does pure bookkeeping:
// no I/O, no cache access.
type Registry struct {
	mu      sync.RWMutex
	byTopic map[string]map[string]*Subscription // topic → subscriber id → sub
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTopic: make(map[string]map[string]*Subscription)}
}

// Canonicalize authorizes and validates a subscribe or one-shot request and
// returns the normalized filters and shaping for it.
func (r *Registry) Canonicalize(t *Topic, f protocol.Filters, prefs protocol.ShapingPrefs, user *auth.UserContext) (protocol.Filters, Shaping, error) {
	if user == nil {
		return protocol.Filters{}, Shaping{}, fault.New(fault.KindAuth, "not authenticated")
	}
	if t.AdminOnly && !user.IsAdmin() {
		return protocol.Filters{}, Shaping{}, fault.New(fault.KindAuth, "topic %s requires the admin role", t.ID)
	}

	if len(f.Devices) > 0 && !t.AllowDevices {
		return protocol.Filters{}, Shaping{}, fault.New(fault.KindValidation, "topic %s does not accept a device filter", t.ID)
	}
	if f.Name != "" && !t.AllowName {
		return protocol.Filters{}, Shaping{}, fault.New(fault.KindValidation, "topic %s does not accept a name filter", t.ID)
	}

	norm := NormalizeFilters(f)
	if len(f.Devices) > 0 && len(norm.Devices) == 0 {
		return protocol.Filters{}, Shaping{}, fault.New(fault.KindValidation, "device filter contains no usable entries")
	}

	var shape Shaping
	if t.Shaped {
		units := prefs.Units
		if units == "" {
			units = user.Units
		}
		if units == "" {
			units = "binary"
		}
		if units != "binary" && units != "decimal" {
			return protocol.Filters{}, Shaping{}, fault.New(fault.KindValidation, "unknown unit system %q", units)
		}
		shape = Shaping{Units: units, Role: user.Role}
	}

	return norm, shape, nil
}

// Subscribe validates and records a subscription. A subscriber re-subscribing
// to the same topic replaces its previous subscription.
func (r *Registry) Subscribe(t *Topic, f protocol.Filters, prefs protocol.ShapingPrefs, subscriberID string, user *auth.UserContext) (*Subscription, error) {
	norm, shape, err := r.Canonicalize(t, f, prefs, user)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Topic:        t.ID,
		SubscriberID: subscriberID,
		Filters:      norm,
		FilterKey:    KeyForFilters(norm),
		Shaping:      shape,
		ShapingKey:   shape.Key(),
		User:         user,
		primed:       make(map[string]bool),
	}

	r.mu.Lock()
	room := r.byTopic[t.ID]
	if room == nil {
		room = make(map[string]*Subscription)
		r.byTopic[t.ID] = room
	}
	room[subscriberID] = sub
	r.mu.Unlock()

	return sub, nil
}

// Unsubscribe removes a subscriber from a topic. Idempotent; returns the
// removed subscription or nil if none existed.
func (r *Registry) Unsubscribe(topicID, subscriberID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.byTopic[topicID]
	sub := room[subscriberID]
	delete(room, subscriberID)
	return sub
}

// OnDisconnect removes all subscriptions for a subscriber across all topics
// and returns what was removed.
func (r *Registry) OnDisconnect(subscriberID string) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Subscription
	for _, room := range r.byTopic {
		if sub, ok := room[subscriberID]; ok {
			removed = append(removed, sub)
			delete(room, subscriberID)
		}
	}
	return removed
}

// RoomSize returns the number of subscribers sharing (topic, FilterKey).
func (r *Registry) RoomSize(topicID string, fk FilterKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sub := range r.byTopic[topicID] {
		if sub.FilterKey == fk {
			n++
		}
	}
	return n
}

// RoomMembers returns the subscriptions sharing (topic, FilterKey).
func (r *Registry) RoomMembers(topicID string, fk FilterKey) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []*Subscription
	for _, sub := range r.byTopic[topicID] {
		if sub.FilterKey == fk {
			members = append(members, sub)
		}
	}
	return members
}
