// Package events provides the typed broadcast channels that wire the exchange,
// the executors and the controllers together. Delivery is at-least-once to the
// handlers subscribed at publish time, synchronous and in subscription order;
// late subscribers do not replay past events. Subscriptions must be released
// with Unsubscribe on teardown.
package events

import "sync"

// Stream is a multi-subscriber broadcast channel of T.
type Stream[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []*Subscription[T]
}

// Subscription is one listener registration on a Stream.
type Subscription[T any] struct {
	id      int
	stream  *Stream[T]
	handler func(T)
}

func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Subscribe registers a handler invoked synchronously for every subsequent
// Publish.
func (s *Stream[T]) Subscribe(handler func(T)) *Subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &Subscription[T]{id: s.nextID, stream: s, handler: handler}
	s.subs = append(s.subs, sub)
	return sub
}

// Publish delivers v to every current subscriber. Handlers run outside the
// stream lock, so they may publish further events or subscribe.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	subs := make([]*Subscription[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.handler(v)
	}
}

// HasSubscribers reports whether anyone is currently listening.
func (s *Stream[T]) HasSubscribers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

// Unsubscribe removes the listener. Safe to call more than once.
func (sub *Subscription[T]) Unsubscribe() {
	if sub == nil || sub.stream == nil {
		return
	}
	s := sub.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.subs {
		if candidate.id == sub.id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	sub.stream = nil
}
