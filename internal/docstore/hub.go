package docstore

import (
	"context"
	"sync"
)

type docKey struct {
	collection string
	id         string
}

// subscriber delivers snapshots to one callback on its own goroutine, in the
// order they were pushed.
type subscriber struct {
	fn    func(*Document)
	mu    sync.Mutex
	queue []*Document
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSubscriber(fn func(*Document)) *subscriber {
	s := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) push(d *Document) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			d := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(d)
		}
	}
}

// Hub fans document snapshots out to subscribers. Publish never blocks on a
// callback; each subscriber has its own ordered queue.
type Hub struct {
	mu   sync.Mutex
	subs map[docKey]map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[docKey]map[*subscriber]struct{})}
}

// Add registers fn for a document and queues initial as its first snapshot.
// The returned function unregisters it; it is also called when ctx is done.
func (h *Hub) Add(ctx context.Context, collection, id string, initial *Document, fn func(*Document)) func() {
	k := docKey{collection, id}
	s := newSubscriber(fn)

	h.mu.Lock()
	set, ok := h.subs[k]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[k] = set
	}
	set[s] = struct{}{}
	s.push(initial.Clone())
	h.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[k]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, k)
				}
			}
			h.mu.Unlock()
			s.stop()
		})
	}
	stopWatch := context.AfterFunc(ctx, remove)
	return func() {
		stopWatch()
		remove()
	}
}

// Publish queues doc (nil for a deletion) to every subscriber of the document.
func (h *Hub) Publish(collection, id string, doc *Document) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[docKey{collection, id}] {
		s.push(doc.Clone())
	}
}

// Watched reports whether the document has subscribers.
func (h *Hub) Watched(collection, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[docKey{collection, id}]) > 0
}

// Close stops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, set := range h.subs {
		for s := range set {
			s.stop()
		}
		delete(h.subs, k)
	}
}
