package rig

import (
	"context"
	"sync"
)

// defaultSupervisorBuffer is the fixed upper bound the orchestrator's
// startup-event stream uses (§4.6/§4.3): "a bounded queue" sized so that
// overflow, in single-process use, can only mean a producer bug.
const defaultSupervisorBuffer = 200

// Signal is a typed in-process publisher. Subscribers receive a private
// buffered channel; Publish fans events out to every live subscriber
// without blocking the publisher on a slow consumer (§4.6).
type Signal[T any] struct {
	mu         sync.Mutex
	subs       map[int]chan T
	nextID     int
	onOverflow func(event T, subscriberID int)
}

// NewSignal creates a Signal. onOverflow is invoked when a subscriber's
// buffer is full at publish time; it may be nil, in which case the event
// is silently dropped for that subscriber (acceptable for general-purpose
// signals that are not the supervisor's startup-event stream, where an
// overflow is explicitly a fatal condition — see Orchestrator).
func NewSignal[T any](onOverflow func(event T, subscriberID int)) *Signal[T] {
	return &Signal[T]{
		subs:       make(map[int]chan T),
		onOverflow: onOverflow,
	}
}

// Subscribe opens a new bounded event stream. Events published before this
// call are never delivered (§4.6: "Events already dispatched before
// subscription are not replayed").
func (s *Signal[T]) Subscribe(buffer int) (id int, ch <-chan T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = s.nextID
	s.nextID++
	c := make(chan T, buffer)
	s.subs[id] = c
	return id, c
}

// Unsubscribe closes and removes a subscriber's stream.
func (s *Signal[T]) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(c)
	}
}

// Publish delivers event to every current subscriber. Delivery is
// non-blocking per subscriber; a full buffer triggers onOverflow if set.
func (s *Signal[T]) Publish(event T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.subs {
		select {
		case c <- event:
		default:
			if s.onOverflow != nil {
				s.onOverflow(event, id)
			}
		}
	}
}

// WaitEvent subscribes to every given signal and blocks until predicate
// matches a delivered event or ctx is done.
// It is the core suspension point behind Context.GetResource's waiting
// path (§4.1 step 4, §5).
func WaitEvent[T any](ctx context.Context, predicate func(T) bool, signals ...*Signal[T]) (T, error) {
	var zero T
	if len(signals) == 0 {
		<-ctx.Done()
		return zero, ctx.Err()
	}
	merged := make(chan T, defaultSupervisorBuffer)
	done := make(chan struct{})
	defer close(done)
	for _, sig := range signals {
		id, ch := sig.Subscribe(defaultSupervisorBuffer)
		go func(sig *Signal[T], id int, ch <-chan T) {
			defer sig.Unsubscribe(id)
			for {
				select {
				case ev, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- ev:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(sig, id, ch)
	}
	for {
		select {
		case ev := <-merged:
			if predicate(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
