package gateway

import (
	"sync"

	"guildchat/internal/snowflake"
)

// shardCount partitions registry state so register/deregister/publish on
// unrelated guilds (or users) never contend on the same lock.
const shardCount = 32

type guildShard struct {
	mu   sync.Mutex
	subs map[snowflake.ID]map[*Session]struct{}
}

type userShard struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]map[*Session]struct{}
}

// registry tracks live sessions: which sessions are subscribed to each
// guild (fan-out lookup) and which sessions belong to each user (forced
// close on deletion/revocation). A user may hold several sessions at once,
// each with its own subscriptions and queue.
type registry struct {
	guilds [shardCount]guildShard
	users  [shardCount]userShard
}

func newRegistry() *registry {
	r := &registry{}
	for i := range r.guilds {
		r.guilds[i].subs = make(map[snowflake.ID]map[*Session]struct{})
	}
	for i := range r.users {
		r.users[i].sessions = make(map[snowflake.ID]map[*Session]struct{})
	}
	return r
}

func (r *registry) guildShard(id snowflake.ID) *guildShard {
	return &r.guilds[uint64(id)%shardCount]
}

func (r *registry) userShard(id snowflake.ID) *userShard {
	return &r.users[uint64(id)%shardCount]
}

// addUser indexes a session under its user id. A false return means the
// session was force-closed while identifying (user deleted, credential
// revoked); it must not be indexed, because close has already run its
// cleanup and will never run again.
func (r *registry) addUser(s *Session) bool {
	sh := r.userShard(s.userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s.state.Load() == stateClosed {
		return false
	}
	set, ok := sh.sessions[s.userID]
	if !ok {
		set = make(map[*Session]struct{})
		sh.sessions[s.userID] = set
	}
	set[s] = struct{}{}
	return true
}

// subscribe adds the session to one guild's fan-out set while fn runs under
// the same lock that Publish takes for that guild. Enqueuing the guild's
// snapshot inside fn is what guarantees no later event outruns it. A closed
// session is refused: the state check shares the lock with Publish and with
// close's removal pass, so a session that loses the race to close can never
// linger in a fan-out set.
func (r *registry) subscribe(s *Session, guildID snowflake.ID, fn func()) bool {
	sh := r.guildShard(guildID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s.state.Load() == stateClosed {
		return false
	}
	set, ok := sh.subs[guildID]
	if !ok {
		set = make(map[*Session]struct{})
		sh.subs[guildID] = set
	}
	set[s] = struct{}{}
	if fn != nil {
		fn()
	}
	return true
}

// remove deletes the session from every guild it subscribed to and from
// the user index. Returns the user's remaining session count, or -1 if the
// session was never indexed (close before identify).
func (r *registry) remove(s *Session) int {
	for _, guildID := range s.guildIDs {
		sh := r.guildShard(guildID)
		sh.mu.Lock()
		if set, ok := sh.subs[guildID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(sh.subs, guildID)
			}
		}
		sh.mu.Unlock()
	}

	if s.userID == 0 {
		return -1
	}
	sh := r.userShard(s.userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	set, ok := sh.sessions[s.userID]
	if !ok {
		return -1
	}
	if _, present := set[s]; !present {
		return -1
	}
	delete(set, s)
	remaining := len(set)
	if remaining == 0 {
		delete(sh.sessions, s.userID)
	}
	return remaining
}

// sessionsOf returns the sessions currently bound to a user.
func (r *registry) sessionsOf(userID snowflake.ID) []*Session {
	sh := r.userShard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	out := make([]*Session, 0, len(sh.sessions[userID]))
	for s := range sh.sessions[userID] {
		out = append(out, s)
	}
	return out
}

// all returns every live indexed session.
func (r *registry) all() []*Session {
	var out []*Session
	for i := range r.users {
		sh := &r.users[i]
		sh.mu.Lock()
		for _, set := range sh.sessions {
			for s := range set {
				out = append(out, s)
			}
		}
		sh.mu.Unlock()
	}
	return out
}
