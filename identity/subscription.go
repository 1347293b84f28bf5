package identity

import "sync"

// Event is a provider auth-state change. Handle is nil after sign-out.
type Event struct {
	Handle *Handle
}

// Subscription delivers auth-state events on C. Only the latest undelivered
// event is kept; an older pending event is replaced.
type Subscription struct {
	C <-chan Event

	ch          chan Event
	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

func newSubscription() *Subscription {
	ch := make(chan Event, 1)
	return &Subscription{C: ch, ch: ch}
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- ev
}

// Close stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
