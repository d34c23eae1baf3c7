package gateway

import (
	"sync"
	"testing"

	"guildchat/internal/snowflake"
)

func newTestSession(userID snowflake.ID, guilds ...snowflake.ID) *Session {
	return &Session{
		userID:   userID,
		guildIDs: guilds,
		out:      make(chan Event, 8),
		done:     make(chan struct{}),
	}
}

func TestRegistry_SubscribeAndRemove(t *testing.T) {
	r := newRegistry()
	g := snowflake.ID(100)
	s := newTestSession(1, g)

	r.addUser(s)
	r.subscribe(s, g, nil)

	sh := r.guildShard(g)
	sh.mu.Lock()
	n := len(sh.subs[g])
	sh.mu.Unlock()
	if n != 1 {
		t.Fatalf("guild has %d subscribers, want 1", n)
	}

	if remaining := r.remove(s); remaining != 0 {
		t.Errorf("remaining sessions = %d, want 0", remaining)
	}
	sh.mu.Lock()
	_, still := sh.subs[g]
	sh.mu.Unlock()
	if still {
		t.Error("empty subscriber set should be deleted")
	}
	if got := len(r.sessionsOf(1)); got != 0 {
		t.Errorf("user index still holds %d sessions", got)
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := newRegistry()
	s := newTestSession(2, 200)
	r.addUser(s)
	r.subscribe(s, 200, nil)

	if got := r.remove(s); got != 0 {
		t.Errorf("first remove = %d, want 0", got)
	}
	if got := r.remove(s); got != -1 {
		t.Errorf("second remove = %d, want -1", got)
	}
}

func TestRegistry_MultipleSessionsPerUser(t *testing.T) {
	r := newRegistry()
	user := snowflake.ID(3)
	s1 := newTestSession(user, 300)
	s2 := newTestSession(user, 300)

	if !r.addUser(s1) || !r.addUser(s2) {
		t.Fatal("open sessions refused by user index")
	}
	if got := len(r.sessionsOf(user)); got != 2 {
		t.Errorf("user index holds %d sessions, want 2", got)
	}

	if remaining := r.remove(s1); remaining != 1 {
		t.Errorf("remaining after one removal = %d, want 1", remaining)
	}
	if remaining := r.remove(s2); remaining != 0 {
		t.Errorf("remaining after both removals = %d, want 0", remaining)
	}
}

func TestRegistry_RefusesClosedSessions(t *testing.T) {
	r := newRegistry()
	s := newTestSession(4, 400)
	s.state.Store(stateClosed)

	if r.addUser(s) {
		t.Error("closed session indexed under its user")
	}
	if r.subscribe(s, 400, nil) {
		t.Error("closed session added to a fan-out set")
	}
	sh := r.guildShard(400)
	sh.mu.Lock()
	n := len(sh.subs[400])
	sh.mu.Unlock()
	if n != 0 {
		t.Errorf("guild set holds %d entries, want 0", n)
	}
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := newRegistry()
	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				user := snowflake.ID(w*perWorker + i + 1)
				guild := snowflake.ID(w%8 + 1)
				s := newTestSession(user, guild)
				r.addUser(s)
				r.subscribe(s, guild, nil)
				r.remove(s)
			}
		}(w)
	}
	wg.Wait()

	for i := range r.users {
		sh := &r.users[i]
		sh.mu.Lock()
		n := len(sh.sessions)
		sh.mu.Unlock()
		if n != 0 {
			t.Errorf("user shard %d not empty after churn: %d entries", i, n)
		}
	}
	for i := range r.guilds {
		sh := &r.guilds[i]
		sh.mu.Lock()
		n := len(sh.subs)
		sh.mu.Unlock()
		if n != 0 {
			t.Errorf("guild shard %d not empty after churn: %d entries", i, n)
		}
	}
}
