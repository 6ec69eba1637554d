// Package broker provides the in-process topic publish/subscribe fabric
// that couples the detector, notifier, coordinator, and dashboard views.
// Delivery is at-most-once per subscriber from the publishing instant;
// a slow subscriber never blocks the publisher or its peers.
package broker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Core topics used by the pipeline.
const (
	TopicIncidentsNew       = "incidents:new"
	TopicDashboardIncidents = "dashboard:incidents"
	TopicConversations      = "conversations:events"
	TopicRemediation        = "remediation:actions"
	TopicPolicyUpdated      = "policy:updated"
)

// LogTopic returns the per-service log topic name.
func LogTopic(serviceID string) string {
	return "railway:logs:" + serviceID
}

// ConnectionTopic returns the per-project connection-status topic name.
func ConnectionTopic(projectID string) string {
	return "railway:connections:" + projectID
}

// Message is one published payload with its topic.
type Message struct {
	Topic   string
	Payload any
}

// Broker is the interface injected into pipeline components.
type Broker interface {
	Publish(topic string, payload any)
	Subscribe(topic string, buffer int) *Subscription
	Unsubscribe(sub *Subscription)
}

// Subscription is one subscriber's receive handle. C is closed on
// Unsubscribe or broker Close.
type Subscription struct {
	ID    string
	Topic string
	C     <-chan Message

	ch     chan Message
	closed bool
}

// MemoryBroker is the in-process Broker implementation.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	closed bool
	logger *slog.Logger

	// Publishers run under the read lock, so the counter is atomic.
	dropped atomic.Uint64
}

// New creates an in-process broker.
func New() *MemoryBroker {
	return &MemoryBroker{
		topics: make(map[string]map[string]*Subscription),
		logger: slog.Default().With("component", "broker"),
	}
}

// Publish delivers payload to every current subscriber of topic.
// A subscriber whose buffer is full misses the message (counted, logged).
func (b *MemoryBroker) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	msg := Message{Topic: topic, Payload: payload}
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Dropping message for slow subscriber",
				"topic", topic, "subscription_id", sub.ID)
		}
	}
}

// Subscribe registers a new subscriber on topic with the given buffer size.
func (b *MemoryBroker) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	sub := &Subscription{
		ID:    uuid.New().String(),
		Topic: topic,
		C:     ch,
		ch:    ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		sub.closed = true
		return sub
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]*Subscription)
	}
	b.topics[topic][sub.ID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *MemoryBroker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	if subs, ok := b.topics[sub.Topic]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.topics, sub.Topic)
		}
	}
	close(sub.ch)
	sub.closed = true
}

// Close shuts down the broker and closes all subscriber channels.
func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			close(sub.ch)
			sub.closed = true
		}
	}
	b.topics = make(map[string]map[string]*Subscription)
}

// Dropped returns the number of messages dropped for slow subscribers.
func (b *MemoryBroker) Dropped() uint64 {
	return b.dropped.Load()
}
