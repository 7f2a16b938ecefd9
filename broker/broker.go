package broker

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// All subscribes to every topic.
const All = "*"

type subscription[E any] struct {
	token string
	fn    func(E)
}

// Broker fans events out to the handlers subscribed to their topic.
// Handlers run in subscription order on the publishing goroutine.
type Broker[E any] struct {
	mu     sync.RWMutex
	subs   map[string][]subscription[E] // Map topic to subscribers
	topics map[string]string            // Map token to topic
}

func New[E any]() *Broker[E] {
	return &Broker[E]{
		subs:   make(map[string][]subscription[E]),
		topics: make(map[string]string),
	}
}

// Subscribe registers fn for topic and returns a token for Unsubscribe.
func (b *Broker[E]) Subscribe(topic string, fn func(E)) string {
	token := uuid.New().String()
	slog.Debug("Subscribing", "topic", topic, "token", token)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], subscription[E]{token: token, fn: fn})
	b.topics[token] = topic
	return token
}

// SubscribeChan delivers events on ch without blocking. Events are dropped
// while ch is full.
func (b *Broker[E]) SubscribeChan(topic string, ch chan<- E) string {
	return b.Subscribe(topic, func(ev E) {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropped event for subscriber (buffer full)", "topic", topic)
		}
	})
}

func (b *Broker[E]) Unsubscribe(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, ok := b.topics[token]
	if !ok {
		slog.Warn("Did not find subscription to remove", "token", token)
		return false
	}
	delete(b.topics, token)

	subs := b.subs[topic]
	for i, s := range subs {
		if s.token == token {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = subs
	}
	slog.Debug("Unsubscribed", "topic", topic, "token", token)
	return true
}

// Publish calls the handlers of topic, then those subscribed to All, and
// returns how many ran.
func (b *Broker[E]) Publish(topic string, ev E) int {
	b.mu.RLock()
	targets := make([]func(E), 0, len(b.subs[topic])+len(b.subs[All]))
	for _, s := range b.subs[topic] {
		targets = append(targets, s.fn)
	}
	if topic != All {
		for _, s := range b.subs[All] {
			targets = append(targets, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ev)
	}
	return len(targets)
}

func (b *Broker[E]) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
