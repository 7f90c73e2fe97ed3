package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/majorcontext/girasol/internal/notifier"
)

// Session is one client connection and its outbound notifier.
type Session struct {
	ID          string
	Remote      string
	ConnectedAt time.Time
	Notifier    *notifier.Notifier

	conn *websocket.Conn
}

// Registry tracks open sessions so shutdown can close them and the idle
// timer can tell when nobody is connected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s under a fresh session ID and returns it.
func (r *Registry) Register(s *Session) string {
	if s.ID == "" {
		s.ID = newSessionID()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s.ID
}

// Lookup finds a session by ID.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Unregister removes a session. It reports whether the registry is now empty.
func (r *Registry) Unregister(id string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return len(r.sessions) == 0
}

// List returns every session ordered by connection time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ConnectedAt.Before(result[j].ConnectedAt) })
	return result
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every session's notifier. Queued frames are still
// flushed before each connection says goodbye.
func (r *Registry) CloseAll() {
	for _, s := range r.List() {
		s.Notifier.Close()
	}
}

func newSessionID() string {
	return "sess_" + uuid.NewString()[:8]
}
