package scan

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSessionTTL = 30 * time.Minute
	SweepPeriod       = time.Minute
)

// Store keeps scan sessions in memory and evicts idle ones.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (st *Store) Create() *Session {
	s := newSession(uuid.NewString(), st.now())

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	return s
}

// Get returns the session and marks it as recently used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()

	if ok {
		s.touch(st.now())
	}
	return s, ok
}

func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
func (st *Store) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if s.inFlight.Load() {
			continue
		}
		if now.Sub(s.idleSince()) > st.ttl {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on a ticker until ctx is done.
func (st *Store) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = SweepPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(st.now()); n > 0 {
				log.Printf("Evicted %d idle scan sessions", n)
			}
		}
	}
}
