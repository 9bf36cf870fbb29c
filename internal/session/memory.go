// Package session keeps the bounded per-session conversation history that
// the context scorer reads back.
package session

import (
	"context"
	"sync"
	"time"

	"doran/internal/domain"
)

// DefaultLimit is the number of exchanges kept per session.
const DefaultLimit = 10

// Options tunes a history store.
type Options struct {
	// Limit caps the exchanges kept per session; older ones are evicted first.
	Limit int
	// TTL drops sessions idle for longer than this. Zero keeps them forever.
	TTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.TTL < 0 {
		o.TTL = 0
	}
	return o
}

type history struct {
	mu        sync.Mutex
	exchanges []domain.Exchange
	touched   time.Time
}

// MemoryStore is an in-process HistoryStore. Appends to one session are
// serialised; distinct sessions do not contend beyond the map lookup.
type MemoryStore struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	sessions  map[string]*history
	lastSweep time.Time
}

var _ domain.HistoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts.withDefaults(),
		now:      time.Now,
		sessions: make(map[string]*history),
	}
}

func (s *MemoryStore) session(id string, create bool) *history {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	h, ok := s.sessions[id]
	if ok && s.expired(h, now) {
		delete(s.sessions, id)
		h, ok = nil, false
	}
	if !ok && create {
		h = &history{touched: now}
		s.sessions[id] = h
	}
	return h
}

func (s *MemoryStore) expired(h *history, now time.Time) bool {
	if s.opts.TTL == 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Sub(h.touched) > s.opts.TTL
}

// sweepLocked drops idle sessions at most once per TTL period.
func (s *MemoryStore) sweepLocked(now time.Time) {
	if s.opts.TTL == 0 || now.Sub(s.lastSweep) < s.opts.TTL {
		return
	}
	s.lastSweep = now
	for id, h := range s.sessions {
		if s.expired(h, now) {
			delete(s.sessions, id)
		}
	}
}

// Append records one exchange, evicting the oldest beyond the limit.
func (s *MemoryStore) Append(_ context.Context, sessionID string, ex domain.Exchange) error {
	if sessionID == "" {
		return nil
	}
	h := s.session(sessionID, true)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = append(h.exchanges, ex)
	if over := len(h.exchanges) - s.opts.Limit; over > 0 {
		h.exchanges = append([]domain.Exchange(nil), h.exchanges[over:]...)
	}
	h.touched = s.now()
	return nil
}

// Recent returns up to n of the latest exchanges, oldest first. n <= 0 returns all.
func (s *MemoryStore) Recent(_ context.Context, sessionID string, n int) ([]domain.Exchange, error) {
	h := s.session(sessionID, false)
	if h == nil {
		return nil, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if n > 0 && len(h.exchanges) > n {
		start = len(h.exchanges) - n
	}
	return append([]domain.Exchange(nil), h.exchanges[start:]...), nil
}

// Clear forgets a session.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
