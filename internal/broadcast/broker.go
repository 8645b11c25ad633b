// Package broadcast is a small topic-based pub/sub used to mirror the
// browser's cross-tab channel: a login tab publishes a success signal that
// any number of waiting edit sessions receive. Subscriptions have independent
// lifecycles; closing one never silences another.
package broadcast

import "sync"

// TopicAuth is the well-known channel the login flow signals on.
const TopicAuth = "fcc-auth"

// LoginSuccess is the payload published when the login flow completes.
const LoginSuccess = "login-success"

// Message is one published event.
type Message struct {
	Topic   string
	Payload string
}

// Broker fans published messages out to per-topic subscriptions.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription receives messages for one topic on C until Close.
type Subscription struct {
	C <-chan Message

	ch    chan Message
	topic string
	b     *Broker
	once  sync.Once
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe opens a subscription on topic. The channel is buffered; a
// subscriber that falls far behind loses messages rather than blocking
// publishers.
func (b *Broker) Subscribe(topic string) *Subscription {
	ch := make(chan Message, 8)
	sub := &Subscription{C: ch, ch: ch, topic: topic, b: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// Publish delivers payload to every current subscriber of topic. It never
// blocks.
func (b *Broker) Publish(topic, payload string) {
	msg := Message{Topic: topic, Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Close tears the subscription down and closes its channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs[s.topic], s)
		if len(s.b.subs[s.topic]) == 0 {
			delete(s.b.subs, s.topic)
		}
		s.b.mu.Unlock()
		close(s.ch)
	})
}
