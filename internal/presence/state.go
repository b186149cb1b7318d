package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/scholarsync/realtime/internal/event"
)

// Entry is one user's presence view.
type Entry struct {
	Status   string    // online, away, offline
	LastSeen time.Time // zero if never seen
}

// trackerState holds the thread-safe presence cache.
type trackerState struct {
	mu sync.RWMutex

	// Last known presence indexed by user id.
	entries map[string]Entry

	// Ids under periodic reconciliation.
	tracked map[string]struct{}
}

func newState() *trackerState {
	return &trackerState{
		entries: make(map[string]Entry),
		tracked: make(map[string]struct{}),
	}
}

// status returns the last known status for id (read-locked).
// Unknown ids and entries without a status read as offline.
func (s *trackerState) status(id string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.Status == "" {
		return event.StatusOffline
	}
	return e.Status
}

// lastSeen returns the last-seen time for id (read-locked).
func (s *trackerState) lastSeen(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.LastSeen.IsZero() {
		return time.Time{}, false
	}
	return e.LastSeen, true
}

// snapshot returns a copy of all known entries (read-locked).
func (s *trackerState) snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		result[id] = e
	}
	return result
}

// upsert overwrites the entry for a single id (write-locked).
func (s *trackerState) upsert(id string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = e
}

// merge overwrites entries for every id in the batch (write-locked).
func (s *trackerState) merge(entries map[string]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range entries {
		s.entries[id] = e
	}
}

// track adds ids to the reconciliation set (write-locked). wasEmpty
// reports whether the set was empty before the call.
func (s *trackerState) track(ids []string) (added int, wasEmpty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasEmpty = len(s.tracked) == 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.tracked[id]; !ok {
			s.tracked[id] = struct{}{}
			added++
		}
	}
	return added, wasEmpty
}

// untrack removes ids from the reconciliation set (write-locked).
func (s *trackerState) untrack(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.tracked, id)
	}
}

// trackedIDs returns a sorted copy of the reconciliation set (read-locked).
func (s *trackerState) trackedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// counts returns the tracked and entry counts (read-locked).
func (s *trackerState) counts() (tracked, entries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.tracked), len(s.entries)
}
