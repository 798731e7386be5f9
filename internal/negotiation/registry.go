package negotiation

import (
	"log/slog"
	"sync"
)

// Registry holds at most one live session per room.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create builds a session for cfg.RoomID. Any session already registered for
// that room is closed first.
func (r *Registry) Create(cfg SessionConfig) (*Session, error) {
	s, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.sessions[cfg.RoomID]
	r.sessions[cfg.RoomID] = s
	r.mu.Unlock()

	if prev != nil {
		slog.Info("replacing session", "room_id", cfg.RoomID, "previous", prev.ID())
		prev.Close()
	}

	go func() {
		<-s.Done()
		r.mu.Lock()
		if r.sessions[s.roomID] == s {
			delete(r.sessions, s.roomID)
		}
		r.mu.Unlock()
	}()
	return s, nil
}

// Get returns the live session for roomID, if any.
func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Close closes and forgets the session for roomID.
func (r *Registry) Close(roomID string) {
	r.mu.Lock()
	s := r.sessions[roomID]
	delete(r.sessions, roomID)
	r.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
