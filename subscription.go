package mqtt

import (
	"context"
	"sort"

	"github.com/golang-io/iotmqtt/packet"
	"github.com/golang-io/iotmqtt/topic"
)

// Subscription is the handle returned by Client.Subscribe.
type Subscription struct {
	client *Client

	Filter string
	QoS    byte // granted by the broker
}

// Unsubscribe removes the subscription's filter from the session.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	return s.client.Unsubscribe(ctx, s.Filter)
}

type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// subscriptions maps topic filters to handlers. Re-subscribing a filter replaces its
// QoS and handler. Owned by the session goroutine.
type subscriptions struct {
	trie    *topic.MemoryTrie
	entries map[string]*subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{trie: topic.NewMemoryTrie(), entries: make(map[string]*subscription)}
}

func (s *subscriptions) set(filter string, qos byte, handler MessageHandler) *subscription {
	sub := &subscription{filter: filter, qos: qos, handler: handler}
	if err := s.trie.Subscribe(filter); err != nil {
		return nil
	}
	s.entries[filter] = sub
	return sub
}

// remove deletes filter. When sub is non-nil the entry is only removed if it is still sub.
func (s *subscriptions) remove(filter string, sub *subscription) {
	cur, ok := s.entries[filter]
	if !ok || (sub != nil && cur != sub) {
		return
	}
	delete(s.entries, filter)
	s.trie.Unsubscribe(filter)
}

// handlers returns the handlers whose filters match topicName, ordered by filter.
// A matching subscription without a handler contributes fallback once.
func (s *subscriptions) handlers(topicName string, fallback MessageHandler) []MessageHandler {
	filters := s.trie.Match(topicName)
	sort.Strings(filters)
	var hs []MessageHandler
	usedFallback := false
	for _, f := range filters {
		sub := s.entries[f]
		switch {
		case sub.handler != nil:
			hs = append(hs, sub.handler)
		case fallback != nil && !usedFallback:
			hs = append(hs, fallback)
			usedFallback = true
		}
	}
	if len(filters) == 0 && fallback != nil {
		hs = append(hs, fallback)
	}
	return hs
}

// all returns every subscription, ordered by filter, for resubscribing.
func (s *subscriptions) all() []packet.Subscription {
	subs := make([]packet.Subscription, 0, len(s.entries))
	for _, sub := range s.entries {
		subs = append(subs, packet.Subscription{TopicFilter: sub.filter, MaximumQoS: sub.qos})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].TopicFilter < subs[j].TopicFilter })
	return subs
}

func (s *subscriptions) clear() {
	for f := range s.entries {
		s.trie.Unsubscribe(f)
	}
	s.entries = make(map[string]*subscription)
}

func (s *subscriptions) len() int { return len(s.entries) }
