package session

import "sync"

// syncMap is the registry-level map guard. It is held only for the map
// mutation itself, never across I/O. Lock order: map lock before any
// session lock.
type syncMap struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func (m *syncMap) get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// getOrStore returns the existing session for id, or stores the one built
// by create. loaded reports whether an existing session won the race.
func (m *syncMap) getOrStore(id string, create func() *Session) (s *Session, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, true
	}
	s = create()
	m.sessions[id] = s
	return s, false
}

// withBoth runs fn with the map lock and the session's lock held. fn may
// call remove to drop the session from the map.
func (m *syncMap) withBoth(id string, fn func(s *Session, remove func())) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s, func() { delete(m.sessions, id) })
}
