package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pos/internal/cart"
)

// ErrNotFound indicates the requested session does not exist or expired.
var ErrNotFound = errors.New("session not found")

// Session is one in-progress POS transaction. The cart is owned
// exclusively by the session and discarded with it; nothing survives
// process restarts or crosses transaction boundaries.
type Session struct {
	ID         string
	Cart       *cart.Cart
	CreatedAt  time.Time
	LastActive time.Time
}

// Store keeps active sessions in process memory. Expired sessions are
// evicted by a background janitor.
type Store struct {
	TTL time.Duration
	Now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	janitorOnce sync.Once
	stop        chan struct{}
	wg          sync.WaitGroup
}

// NewStore constructs an empty session store. TTL <= 0 falls back to one hour.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		TTL:      ttl,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// StartJanitor launches the eviction loop. Safe to call once; Close stops it.
func (s *Store) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.janitorOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.evictExpired()
				case <-s.stop:
					return
				}
			}
		}()
	})
}

// Close stops the janitor and waits for it to exit.
func (s *Store) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.wg.Wait()
}

func (s *Store) evictExpired() {
	cutoff := s.now().Add(-s.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

// Create opens a fresh session with an empty cart.
func (s *Store) Create() *Session {
	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		Cart:       cart.New(),
		CreatedAt:  now,
		LastActive: now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session and refreshes its activity timestamp.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.LastActive.Before(s.now().Add(-s.TTL)) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	sess.LastActive = s.now()
	return sess, nil
}

// Delete discards the session. Deleting an unknown id is not an error:
// completion and cancellation race benignly with janitor eviction.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
