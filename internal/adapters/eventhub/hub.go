// Package eventhub fans auth events out to listeners. Each listener gets its
// own queue drained by a single goroutine, so delivery is asynchronous to the
// emitter and ordered per listener.
package eventhub

import (
	"sync"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// Hub keeps track of the listeners that need to be notified when an auth
// event is emitted.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

// New constructs an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[*subscription]struct{})}
}

// Subscribe registers fn and returns a function that removes it. The initial
// events are queued for fn alone, ahead of anything published afterwards.
// Events still queued when fn is unsubscribed are dropped.
func (h *Hub) Subscribe(fn ports.Listener, initial ...domainauth.Event) func() {
	s := &subscription{
		fn:     fn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, ev := range initial {
		s.enqueue(ev)
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.done)
		})
	}
}

// Publish fans ev out to all currently registered listeners.
func (h *Hub) Publish(ev domainauth.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		s.enqueue(ev)
	}
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

type subscription struct {
	fn     ports.Listener
	notify chan struct{}
	done   chan struct{}

	mu    sync.Mutex
	queue []domainauth.Event
}

func (s *subscription) enqueue(ev domainauth.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}
