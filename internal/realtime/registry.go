package realtime

import (
	"sort"
	"sync"

	"github.com/dmchat/internal/apperr"
)

// Registry tracks which live connections belong to which user and derives the
// global online set from them. A user is online while at least one of their
// connections is registered; the entry is reference-counted across devices, so
// closing one of two devices does not mark the user offline.
//
// Registry is the only shared mutable presence state in the process. A single
// mutex guards both the connection map and the per-user sets; nothing outside
// this type mutates them.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]string              // connection id -> user id
	users map[string]map[string]struct{} // user id -> set of connection ids
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]string),
		users: make(map[string]map[string]struct{}),
	}
}

// Register binds a connection to a user. Registering the same pair again is a
// no-op; rebinding a connection to a different user is a conflict (the client
// must open a new connection to re-authenticate). The returned flag reports
// whether the user's connection count went 0 -> 1.
func (r *Registry) Register(connID, userID string) (first bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.conns[connID]; ok {
		if bound == userID {
			return false, nil
		}
		return false, apperr.Conflictf("connection already bound to another user")
	}
	r.conns[connID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1, nil
}

// Unregister removes a connection's binding. Unknown connection ids are
// ignored (the transport may signal the same disconnect twice). The returned
// flags report the freed user and whether their count went 1 -> 0.
func (r *Registry) Unregister(connID string) (userID string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.conns[connID]
	if !ok {
		return "", false, false
	}
	delete(r.conns, connID)
	set := r.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return userID, true, true
	}
	return userID, false, true
}

// ConnectionsFor returns the connection ids currently registered for a user;
// empty if the user is offline.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.users[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports whether the user has at least one registered connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Online returns the full current online set, sorted for stable payloads.
// Clients replace their local view wholesale with this list.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
