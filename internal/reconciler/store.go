package reconciler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionOpen is returned by OpenSession when the user already has an open
// session. Under overlapping reconciliations both invocations may see "no
// open session" and race to insert; the store turns the loser into this
// typed rejection instead of a second open row.
var ErrSessionOpen = errors.New("user already has an open session")

// Store is the persistence boundary for live sessions and encoder
// registrations. Implementations must uphold the one-open-session-per-user
// invariant at the storage layer, not just trust callers to check first.
type Store interface {
	// FindOpenSession returns the open session for the user, or nil.
	FindOpenSession(ctx context.Context, userID UserID) (*LiveSession, error)

	// OpenSession inserts a new open session with the given initial peak.
	// Returns ErrSessionOpen if the user already has one.
	OpenSession(ctx context.Context, userID UserID, encoderID string, initialPeak int) (*LiveSession, error)

	// RatchetPeak raises the session's listeners_peak to observedListeners
	// if that is higher. Never lowers it.
	RatchetPeak(ctx context.Context, id SessionID, observedListeners int) error

	// CloseAllOpenSessions ends every open session system-wide and reports
	// how many were closed.
	CloseAllOpenSessions(ctx context.Context) (int, error)

	// CurrentLiveSession returns the open session, if any. The invariant
	// plus the single station-wide live flag mean at most one exists.
	CurrentLiveSession(ctx context.Context) (*LiveSession, error)

	// SessionHistory returns the user's sessions, most recent first.
	SessionHistory(ctx context.Context, userID UserID) ([]LiveSession, error)

	// ActiveEncoders returns active registrations in stable order
	// (registration id ascending), so resolution is deterministic.
	ActiveEncoders(ctx context.Context) ([]EncoderRegistration, error)

	// OpenSessionCount reports the number of open sessions, for metrics.
	OpenSessionCount(ctx context.Context) (int, error)
}

// InMemoryStore is a concurrency-safe in-memory Store, used in tests and for
// running without a database.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions []*LiveSession
	encoders []EncoderRegistration
}

// NewInMemoryStore returns an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddEncoder registers an encoder credential. Registrations resolve in the
// order they were added.
func (s *InMemoryStore) AddEncoder(reg EncoderRegistration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg.ID = int64(len(s.encoders) + 1)
	s.encoders = append(s.encoders, reg)
}

// FindOpenSession implements Store.FindOpenSession.
func (s *InMemoryStore) FindOpenSession(_ context.Context, userID UserID) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess := s.openSessionLocked(userID); sess != nil {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

// OpenSession implements Store.OpenSession.
func (s *InMemoryStore) OpenSession(_ context.Context, userID UserID, encoderID string, initialPeak int) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openSessionLocked(userID) != nil {
		return nil, ErrSessionOpen
	}

	sess := &LiveSession{
		ID:            SessionID(uuid.NewString()),
		UserID:        userID,
		EncoderID:     encoderID,
		IsLive:        true,
		StartedAt:     time.Now().UTC(),
		ListenersPeak: initialPeak,
	}
	s.sessions = append(s.sessions, sess)

	cp := *sess
	return &cp, nil
}

// RatchetPeak implements Store.RatchetPeak.
func (s *InMemoryStore) RatchetPeak(_ context.Context, id SessionID, observedListeners int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			if observedListeners > sess.ListenersPeak {
				sess.ListenersPeak = observedListeners
			}
			return nil
		}
	}
	return nil
}

// CloseAllOpenSessions implements Store.CloseAllOpenSessions.
func (s *InMemoryStore) CloseAllOpenSessions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	closed := 0
	for _, sess := range s.sessions {
		if sess.IsLive && sess.EndedAt == nil {
			sess.IsLive = false
			endedAt := now
			sess.EndedAt = &endedAt
			closed++
		}
	}
	return closed, nil
}

// CurrentLiveSession implements Store.CurrentLiveSession.
func (s *InMemoryStore) CurrentLiveSession(_ context.Context) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.IsLive && sess.EndedAt == nil {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, nil
}

// SessionHistory implements Store.SessionHistory.
func (s *InMemoryStore) SessionHistory(_ context.Context, userID UserID) ([]LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []LiveSession
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// ActiveEncoders implements Store.ActiveEncoders.
func (s *InMemoryStore) ActiveEncoders(_ context.Context) ([]EncoderRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]EncoderRegistration, 0, len(s.encoders))
	for _, reg := range s.encoders {
		if reg.Active {
			out = append(out, reg)
		}
	}
	return out, nil
}

// OpenSessionCount implements Store.OpenSessionCount.
func (s *InMemoryStore) OpenSessionCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if sess.IsLive && sess.EndedAt == nil {
			n++
		}
	}
	return n, nil
}

// openSessionLocked returns the user's open session. Caller must hold s.mu.
func (s *InMemoryStore) openSessionLocked(userID UserID) *LiveSession {
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsLive && sess.EndedAt == nil {
			return sess
		}
	}
	return nil
}
