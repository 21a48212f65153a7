package streaming

import (
	"sync"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenLabCore/internal/storage"
)

const subscriberBuffer = 100

// EventStreamer fans execution events out to per-execution subscribers.
// Slow subscribers lose events instead of blocking the run.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID][]chan *storage.ExecutionEvent
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[uuid.UUID][]chan *storage.ExecutionEvent),
	}
}

func (s *EventStreamer) Subscribe(executionID uuid.UUID) <-chan *storage.ExecutionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *storage.ExecutionEvent, subscriberBuffer)
	s.subscribers[executionID] = append(s.subscribers[executionID], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(executionID uuid.UUID, ch <-chan *storage.ExecutionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[executionID]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[executionID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[executionID]) == 0 {
		delete(s.subscribers, executionID)
	}
}

func (s *EventStreamer) Broadcast(executionID uuid.UUID, event *storage.ExecutionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers[executionID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Finish closes every subscription of an execution after its last event.
func (s *EventStreamer) Finish(executionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.subscribers[executionID] {
		close(ch)
	}
	delete(s.subscribers, executionID)
}

func (s *EventStreamer) SubscriberCount(executionID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[executionID])
}
