package registry

import "sync"

// Pusher is the transport half of a session: a serialized frame goes out, or
// the connection is torn down. Implementations must be safe for use by the
// owning connection goroutine plus fan-out from other connections.
type Pusher interface {
	Push(frame []byte) error
	Close() error
}

// Session binds one live transport connection to an authenticated identity.
// Sessions are ephemeral and never persisted.
type Session struct {
	UID  string
	Conn Pusher
}

// Registry maps uid -> live sessions for this process only. Multi-device is
// supported by keeping a set per uid. All operations are in-memory and must
// stay cheap; the lock is never held across a Push.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
}

func New() *Registry {
	return &Registry{sessions: make(map[string]map[*Session]struct{})}
}

func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.UID] == nil {
		r.sessions[s.UID] = make(map[*Session]struct{})
	}
	r.sessions[s.UID][s] = struct{}{}
}

// Unregister removes one session. Other sessions for the same uid are
// unaffected.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[s.UID]
	if set == nil {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(r.sessions, s.UID)
	}
}

func (r *Registry) SessionsFor(uid string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[uid]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsLive(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[s.UID]
	if set == nil {
		return false
	}
	_, ok := set[s]
	return ok
}

// Fanout pushes one frame to every live session of the uid and returns how
// many pushes succeeded. A failed session is closed and unregistered; the
// caller's ledger copy remains the source of truth for redelivery.
func (r *Registry) Fanout(uid string, frame []byte) int {
	sessions := r.SessionsFor(uid)

	delivered := 0
	var failed []*Session
	for _, s := range sessions {
		if err := s.Conn.Push(frame); err != nil {
			failed = append(failed, s)
			continue
		}
		delivered++
	}
	for _, s := range failed {
		_ = s.Conn.Close()
		r.Unregister(s)
	}
	return delivered
}
