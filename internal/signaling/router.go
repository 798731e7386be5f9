package signaling

import (
	"sync"

	"github.com/google/uuid"
)

// Handler receives messages for one subscription. Handlers run on the link's
// read goroutine and must not block.
type Handler func(*Message)

type subscription struct {
	id uuid.UUID
	fn Handler
}

// Router fans incoming messages out to room-scoped subscribers. Messages
// without a room go to subscribers registered with an empty room ID.
type Router struct {
	mu   sync.RWMutex
	subs map[string][]subscription
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{subs: make(map[string][]subscription)}
}

// Subscribe registers fn for messages tagged with roomID. The returned
// function removes exactly this subscription and is safe to call twice.
func (r *Router) Subscribe(roomID string, fn Handler) (unsubscribe func()) {
	sub := subscription{id: uuid.New(), fn: fn}

	r.mu.Lock()
	r.subs[roomID] = append(r.subs[roomID], sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(roomID, sub.id) })
	}
}

func (r *Router) remove(roomID string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[roomID]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.subs, roomID)
		return
	}
	r.subs[roomID] = subs
}

// Dispatch delivers msg to every subscriber of its room, in subscription
// order, and reports how many handlers ran.
func (r *Router) Dispatch(msg *Message) int {
	r.mu.RLock()
	subs := r.subs[msg.RoomID]
	targets := make([]Handler, len(subs))
	for i, s := range subs {
		targets[i] = s.fn
	}
	r.mu.RUnlock()

	for _, fn := range targets {
		fn(msg)
	}
	return len(targets)
}

// Len reports the number of live subscriptions for roomID.
func (r *Router) Len(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[roomID])
}
