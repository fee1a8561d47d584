package ingest

import (
	"sync"
	"time"

	"github.com/rawcontext/engram-sub009/internal/domain/models"
)

// StateStore holds per-session aggregation state for one aggregator instance:
// the active (unfinalized) turn and the last-used sequence counter. State is
// instance-owned, never process-global, so independent aggregators cannot
// corrupt each other.
//
// The store itself is safe for concurrent use across sessions; mutation of a
// Turn it hands out is not, per the single-consumer-per-session contract.
type StateStore struct {
	mu        sync.RWMutex
	active    map[string]*models.Turn
	sequences map[string]int
}

func NewStateStore() *StateStore {
	return &StateStore{
		active:    make(map[string]*models.Turn),
		sequences: make(map[string]int),
	}
}

// NextSequence allocates the session's next turn sequence index, starting
// at 0.
func (s *StateStore) NextSequence(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.sequences[sessionID]
	s.sequences[sessionID] = seq + 1
	return seq
}

// ReleaseSequence rolls the session counter back after a failed turn
// persist, provided no later allocation happened in between. Keeps sequence
// indices gapless when the graph write fails.
func (s *StateStore) ReleaseSequence(sessionID string, seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequences[sessionID] == seq+1 {
		s.sequences[sessionID] = seq
	}
}

// ActiveTurn returns the session's active turn, or nil.
func (s *StateStore) ActiveTurn(sessionID string) *models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[sessionID]
}

// SetActiveTurn installs the session's active turn.
func (s *StateStore) SetActiveTurn(sessionID string, turn *models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[sessionID] = turn
}

// RemoveActiveTurn drops the session's active turn if it is the given one.
func (s *StateStore) RemoveActiveTurn(sessionID string, turn *models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[sessionID] == turn {
		delete(s.active, sessionID)
	}
}

// Clear removes both the active-turn and sequence-counter entries for a
// session without finalizing. For sessions known to have ended out-of-band.
func (s *StateStore) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sessionID)
	delete(s.sequences, sessionID)
}

// StaleTurns snapshots active turns created before the cutoff.
func (s *StateStore) StaleTurns(cutoff time.Time) []*models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*models.Turn
	for _, turn := range s.active {
		if turn.CreatedAt.Before(cutoff) && !turn.Finalized {
			stale = append(stale, turn)
		}
	}
	return stale
}

// ActiveCount reports how many sessions currently hold an active turn.
func (s *StateStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
