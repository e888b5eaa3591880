package hub

import (
	"net/netip"
	"sync"

	"github.com/stupid-engine/stupid/pkg/session"
)

// registry maps remote addresses to sessions. Every access goes through mu.
type registry struct {
	mu       sync.RWMutex
	sessions map[netip.AddrPort]*session.Session
	closed   bool
}

func newRegistry() *registry {
	return &registry{sessions: make(map[netip.AddrPort]*session.Session)}
}

// insert registers s. It returns false once the registry is closed, and the
// session previously registered under the same address, if any.
func (r *registry) insert(s *session.Session) (stale *session.Session, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false
	}
	stale = r.sessions[s.RemoteAddr()]
	r.sessions[s.RemoteAddr()] = s
	return stale, true
}

// remove deletes s, but only if the address still maps to s.
func (r *registry) remove(s *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.RemoteAddr()]; ok && cur == s {
		delete(r.sessions, s.RemoteAddr())
		return true
	}
	return false
}

func (r *registry) get(addr netip.AddrPort) (*session.Session, bool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[addr]
	return s, ok, r.closed
}

// close stops further inserts and returns the sessions registered so far.
func (r *registry) close() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *registry) snapshot() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
