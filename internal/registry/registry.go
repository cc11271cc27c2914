// Package registry tracks the live connections of every connected user.
package registry

import (
	"sync"

	"github.com/samber/lo"
)

const shardCount = 32

type set[C comparable] map[C]struct{}

type shard[C comparable] struct {
	mu    sync.RWMutex
	conns map[int64]set[C]
}

// Registry maps a user id to the set of connections that user currently
// holds. A user may be connected from several devices at once.
//
// Entries are spread over shards keyed by user id, so reading one user's
// connections never waits on mutations of users living in other shards.
type Registry[C comparable] struct {
	shards [shardCount]*shard[C]
}

func New[C comparable]() *Registry[C] {
	r := &Registry[C]{}
	for i := range r.shards {
		r.shards[i] = &shard[C]{conns: make(map[int64]set[C])}
	}
	return r
}

func (r *Registry[C]) shardFor(userID int64) *shard[C] {
	i := userID % shardCount
	if i < 0 {
		i = -i
	}
	return r.shards[i]
}

// Register adds conn to the set of userID, creating the set if needed.
func (r *Registry[C]) Register(userID int64, conn C) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.conns[userID]
	if !ok {
		members = make(set[C])
		s.conns[userID] = members
	}
	members[conn] = struct{}{}
}

// Unregister removes conn from the set of userID. The user entry is dropped
// once its last connection leaves. Removing an absent connection is a no-op.
func (r *Registry[C]) Unregister(userID int64, conn C) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.conns[userID]
	if !ok {
		return
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(s.conns, userID)
	}
}

// ConnectionsFor returns a copy of the connections of userID at the time of
// the call. Callers may iterate it freely while others register or unregister.
func (r *Registry[C]) ConnectionsFor(userID int64) []C {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.conns[userID]
	if !ok {
		return []C{}
	}
	return lo.Keys(members)
}

// All returns a snapshot of every registered connection.
func (r *Registry[C]) All() []C {
	var out []C
	for _, s := range r.shards {
		s.mu.RLock()
		for _, members := range s.conns {
			out = append(out, lo.Keys(members)...)
		}
		s.mu.RUnlock()
	}
	return out
}

// Len returns the total number of registered connections.
func (r *Registry[C]) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, members := range s.conns {
			n += len(members)
		}
		s.mu.RUnlock()
	}
	return n
}

// Users returns the number of users with at least one connection.
func (r *Registry[C]) Users() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
