package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helmboard/helmboard/internal/auth"
	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/protocol"
)

// Publisher delivers one event to one subscriber. Implemented by the hub.
type Publisher interface {
	Publish(subscriberID, msgType string, payload any)
}

// Scheduler owns one timer per live (topic, sub-key, FilterKey) and drives
// the periodic fetch → detect → send cycle. Timers start lazily on the first
// subscription and stop themselves, purging the cache, when they find their
// room empty.
type Scheduler struct {
	log   zerolog.Logger
	reg   *Registry
	cache *Cache
	pub   Publisher

	topics map[string]*Topic

	mu     sync.Mutex
	timers map[timerKey]chan struct{}
	closed bool
}

type timerKey struct {
	topic  string
	subKey string
	filter FilterKey
}

// NewScheduler creates a scheduler for the given topic registrations.
func NewScheduler(log zerolog.Logger, topics []*Topic, reg *Registry, cache *Cache, pub Publisher) *Scheduler {
	byID := make(map[string]*Topic, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}
	return &Scheduler{
		log:    log.With().Str("component", "scheduler").Logger(),
		reg:    reg,
		cache:  cache,
		pub:    pub,
		topics: byID,
		timers: make(map[timerKey]chan struct{}),
	}
}

// Topic resolves a topic id.
func (s *Scheduler) Topic(id string) (*Topic, error) {
	t, ok := s.topics[id]
	if !ok {
		return nil, fault.New(fault.KindNotFound, "unknown topic %q", id)
	}
	return t, nil
}

// Subscribe joins a subscriber to a topic room: it validates and records the
// subscription, confirms it, delivers the immediate full snapshot for every
// sub-key, and ensures the room's timers run.
func (s *Scheduler) Subscribe(ctx context.Context, topicID string, f protocol.Filters, prefs protocol.ShapingPrefs, subscriberID string, user *auth.UserContext) error {
	t, err := s.Topic(topicID)
	if err != nil {
		return err
	}

	sub, err := s.reg.Subscribe(t, f, prefs, subscriberID, user)
	if err != nil {
		return err
	}

	s.pub.Publish(subscriberID, t.ID+protocol.SuffixSubscriptionConfirmed, protocol.SubscriptionConfirmedPayload{
		Intervals: t.IntervalsMS(),
		Filters:   sub.Filters,
	})

	// First delivery to a new subscriber is always the current full
	// snapshot, independent of the change-detection hash.
	for subKey := range t.Intervals {
		snap, err := s.cache.GetOrFetch(ctx, t, subKey, sub.Filters, sub.Shaping, false)
		if err != nil {
			s.publishError(subscriberID, err)
			continue
		}
		s.pub.Publish(subscriberID, t.ID+protocol.SuffixUpdate, protocol.UpdatePayload{
			Key:       subKey,
			Data:      snap,
			Timestamp: time.Now(),
		})
		sub.MarkPrimed(subKey)
	}

	s.ensureTimers(t, sub.FilterKey)
	return nil
}

// Unsubscribe removes a subscriber from a topic room. Idempotent. The room's
// timers notice the empty room on their next tick and stop themselves.
func (s *Scheduler) Unsubscribe(topicID, subscriberID string) error {
	t, err := s.Topic(topicID)
	if err != nil {
		return err
	}
	s.reg.Unsubscribe(t.ID, subscriberID)
	s.pub.Publish(subscriberID, t.ID+protocol.SuffixUnsubscriptionConfirmed, struct{}{})
	return nil
}

// OnDisconnect drops all of a subscriber's subscriptions.
func (s *Scheduler) OnDisconnect(subscriberID string) {
	s.reg.OnDisconnect(subscriberID)
}

// GetOnce performs a one-shot forced-refresh snapshot without joining a
// room: no timer is started, no priming state is touched, and change
// detection never suppresses the send. Multi-cadence topics deliver one
// keyed update per sub-key.
func (s *Scheduler) GetOnce(ctx context.Context, topicID string, f protocol.Filters, prefs protocol.ShapingPrefs, subscriberID string, user *auth.UserContext) error {
	t, err := s.Topic(topicID)
	if err != nil {
		return err
	}
	norm, shape, err := s.reg.Canonicalize(t, f, prefs, user)
	if err != nil {
		return err
	}
	for subKey := range t.Intervals {
		snap, err := s.cache.GetOrFetch(ctx, t, subKey, norm, shape, true)
		if err != nil {
			s.publishError(subscriberID, err)
			continue
		}
		s.pub.Publish(subscriberID, t.ID+protocol.SuffixUpdate, protocol.UpdatePayload{
			Key:       subKey,
			Data:      snap,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// Close stops all timers.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for k, stop := range s.timers {
		close(stop)
		delete(s.timers, k)
	}
}

// ensureTimers starts the per-sub-key timers for a room if absent.
func (s *Scheduler) ensureTimers(t *Topic, fk FilterKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for subKey, interval := range t.Intervals {
		k := timerKey{topic: t.ID, subKey: subKey, filter: fk}
		if _, ok := s.timers[k]; ok {
			continue
		}
		stop := make(chan struct{})
		s.timers[k] = stop
		s.log.Debug().Str("topic", t.ID).Str("sub_key", subKey).Str("filter", string(fk)).Msg("timer started")
		go s.runTimer(t, subKey, fk, interval, stop)
	}
}

func (s *Scheduler) runTimer(t *Topic, subKey string, fk FilterKey, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.tick(t, subKey, fk) {
				return
			}
		}
	}
}

// tick runs one fetch → detect → send cycle for (topic, sub-key, FilterKey).
// Returns false when the room emptied and this timer was cancelled.
func (s *Scheduler) tick(t *Topic, subKey string, fk FilterKey) bool {
	members := s.reg.RoomMembers(t.ID, fk)
	if len(members) == 0 {
		return !s.stopRoom(t, fk)
	}

	// Group members by shaping key: each distinct rendering gets its own
	// cache slot and one fetch.
	groups := make(map[ShapingKey][]*Subscription)
	for _, sub := range members {
		groups[sub.ShapingKey] = append(groups[sub.ShapingKey], sub)
	}

	for _, subs := range groups {
		lead := subs[0]
		snap, busy, err := s.cache.TickFetch(context.Background(), t, subKey, lead.Filters, lead.Shaping)
		if busy {
			// A previous fetch for this key is still in flight; skip this
			// tick rather than piling up.
			continue
		}
		if err != nil {
			// One shaping group's provider failure never halts the topic
			// for the others.
			s.log.Warn().Err(err).Str("topic", t.ID).Str("sub_key", subKey).Msg("provider failed")
			for _, sub := range subs {
				s.publishError(sub.SubscriberID, err)
			}
			continue
		}

		changed := true
		if t.DetectChanges {
			changed = s.cache.HasChangedAndMark(t, subKey, fk, lead.ShapingKey, snap)
		}

		for _, sub := range subs {
			// Unprimed members missed their initial snapshot (or joined mid
			// tick); they get the full snapshot regardless of suppression.
			if !changed && sub.Primed(subKey) {
				continue
			}
			s.pub.Publish(sub.SubscriberID, t.ID+protocol.SuffixUpdate, protocol.UpdatePayload{
				Key:       subKey,
				Data:      snap,
				Timestamp: time.Now(),
			})
			sub.MarkPrimed(subKey)
		}
	}
	return true
}

// stopRoom cancels every timer for (topic, FilterKey) and purges the cache.
// Re-checks the room under the scheduler lock so a subscriber racing in
// keeps its timers; returns true when the room was actually stopped.
func (s *Scheduler) stopRoom(t *Topic, fk FilterKey) bool {
	s.mu.Lock()
	if s.reg.RoomSize(t.ID, fk) > 0 {
		s.mu.Unlock()
		return false
	}
	for subKey := range t.Intervals {
		k := timerKey{topic: t.ID, subKey: subKey, filter: fk}
		if stop, ok := s.timers[k]; ok {
			close(stop)
			delete(s.timers, k)
		}
	}
	s.mu.Unlock()

	s.cache.Purge(t.ID, fk)
	s.log.Debug().Str("topic", t.ID).Str("filter", string(fk)).Msg("room emptied, timers stopped and cache purged")
	return true
}

func (s *Scheduler) publishError(subscriberID string, err error) {
	s.pub.Publish(subscriberID, protocol.TypeError, protocol.ErrorPayload{
		Kind:    string(fault.KindOf(err)),
		Message: err.Error(),
	})
}
