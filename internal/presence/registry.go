package presence

import "sync"

// Registry maps a user to the set of open session ids for that user. A user
// is online exactly while that set is non-empty.
type Registry struct {
	mu    sync.RWMutex
	users map[int64]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[int64]map[string]struct{})}
}

// Add records sessionID for userID.
func (r *Registry) Add(userID int64, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.users[userID]
	if !ok {
		sessions = make(map[string]struct{})
		r.users[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
}

// Remove forgets sessionID and drops the user entry once no sessions remain.
func (r *Registry) Remove(userID int64, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.users[userID]
	if !ok {
		return
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.users, userID)
	}
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

// Sessions returns a copy of the session ids currently open for userID.
func (r *Registry) Sessions(userID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.users[userID]
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	return out
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
