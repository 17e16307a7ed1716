package usecases

import (
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/livetrack/internal/core/domain"
	"github.com/samirrijal/livetrack/internal/pkg/metrics"
)

// SubscriptionRegistry tracks which connections follow which topics.
// It keeps two indexes under one lock so disconnect cleanup never scans
// every topic.
type SubscriptionRegistry struct {
	mu      sync.RWMutex
	byTopic map[domain.Topic]map[string]time.Time
	byConn  map[string]map[domain.Topic]time.Time
	now     func() time.Time
}

// RegistryStats is a point-in-time size of the registry.
type RegistryStats struct {
	Connections   int `json:"connections"`
	Topics        int `json:"topics"`
	Subscriptions int `json:"subscriptions"`
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		byTopic: make(map[domain.Topic]map[string]time.Time),
		byConn:  make(map[string]map[domain.Topic]time.Time),
		now:     time.Now,
	}
}

// Subscribe adds connID to topic. Re-subscribing is a no-op.
func (r *SubscriptionRegistry) Subscribe(connID string, topic domain.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[connID][topic]; ok {
		return
	}

	at := r.now()
	subs, ok := r.byTopic[topic]
	if !ok {
		subs = make(map[string]time.Time)
		r.byTopic[topic] = subs
	}
	subs[connID] = at

	topics, ok := r.byConn[connID]
	if !ok {
		topics = make(map[domain.Topic]time.Time)
		r.byConn[connID] = topics
	}
	topics[topic] = at

	metrics.ActiveSubscriptions.Inc()
}

// Unsubscribe removes connID from topic. Unknown pairs are ignored.
func (r *SubscriptionRegistry) Unsubscribe(connID string, topic domain.Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(connID, topic)
}

func (r *SubscriptionRegistry) removeLocked(connID string, topic domain.Topic) {
	topics, ok := r.byConn[connID]
	if !ok {
		return
	}
	if _, ok := topics[topic]; !ok {
		return
	}

	delete(topics, topic)
	if len(topics) == 0 {
		delete(r.byConn, connID)
	}
	if subs, ok := r.byTopic[topic]; ok {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.byTopic, topic)
		}
	}
	metrics.ActiveSubscriptions.Dec()
}

// RemoveConnection drops every subscription held by connID. Safe to repeat.
func (r *SubscriptionRegistry) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.byConn[connID] {
		r.removeLocked(connID, topic)
	}
	delete(r.byConn, connID)
}

// SubscribersOf returns a sorted snapshot of the connections on topic.
func (r *SubscriptionRegistry) SubscribersOf(topic domain.Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byTopic[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscriptions lists what connID follows, oldest first.
func (r *SubscriptionRegistry) Subscriptions(connID string) []domain.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Subscription, 0, len(r.byConn[connID]))
	for topic, at := range r.byConn[connID] {
		out = append(out, domain.Subscription{ConnectionID: connID, Topic: topic, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Topic.String() < out[j].Topic.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns registry sizes.
func (r *SubscriptionRegistry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStats{Connections: len(r.byConn), Topics: len(r.byTopic)}
	for _, topics := range r.byConn {
		st.Subscriptions += len(topics)
	}
	return st
}
