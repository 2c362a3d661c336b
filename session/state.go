// Package session holds the operator's view of which debugging session and
// dump are active, reconciles it with the server and persists it between
// CLI invocations.
package session

import "sync"

// Status is the outcome of Resync.
type Status int

const (
	// StatusNotSynced means there was no local session to reconcile.
	StatusNotSynced Status = iota
	// StatusNotFound means the local session is absent from the server's list.
	StatusNotFound
	// StatusSynced means the session was found with a dump open.
	StatusSynced
	// StatusNoDump means the session was found without a dump open.
	StatusNoDump
)

func (s Status) String() string {
	switch s {
	case StatusNotSynced:
		return "not synced"
	case StatusNotFound:
		return "not found"
	case StatusSynced:
		return "synced"
	case StatusNoDump:
		return "no dump"
	default:
		return "unknown"
	}
}

// Entry is one session as the server reports it.
type Entry struct {
	SessionID string
	DumpID    string
}

// Snapshot is a copy of State's fields.
type Snapshot struct {
	UserID             string `db:"user_id"`
	SessionID          string `db:"session_id"`
	DumpID             string `db:"dump_id"`
	LastSelectedDumpID string `db:"last_selected_dump_id"`
}

// State is safe for concurrent use.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState returns a State for userID with nothing selected.
func NewState(userID string) *State {
	return &State{snap: Snapshot{UserID: userID}}
}

// FromSnapshot returns a State initialised from snap.
func FromSnapshot(snap Snapshot) *State {
	return &State{snap: snap}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *State) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.UserID
}

func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.SessionID
}

func (s *State) DumpID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.DumpID
}

func (s *State) LastSelectedDumpID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.LastSelectedDumpID
}

// HasSession reports whether a session is active.
func (s *State) HasSession() bool {
	return s.SessionID() != ""
}

// SetUserID changes the user sessions are created for.
func (s *State) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.UserID = userID
}

// SetSession makes sessionID active. Switching to another session clears the dump.
func (s *State) SetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.SessionID != sessionID {
		s.snap.DumpID = ""
	}
	s.snap.SessionID = sessionID
}

// SetDump records dumpID as open and last selected.
func (s *State) SetDump(dumpID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DumpID = dumpID
	if dumpID != "" {
		s.snap.LastSelectedDumpID = dumpID
	}
}

// ClearDump forgets the open dump.
func (s *State) ClearDump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DumpID = ""
}

// Clear forgets the session and dump. The user ID is kept.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SessionID = ""
	s.snap.DumpID = ""
	s.snap.LastSelectedDumpID = ""
}

// Resync reconciles st with the server's session list:
//
//   - no local session: the dump is cleared, StatusNotSynced
//   - local session missing from sessions: the dump is cleared, StatusNotFound
//   - session found with a dump: dump and last-selected dump set, StatusSynced
//   - session found without a dump: the dump is cleared, StatusNoDump
//
// The local session ID itself is never changed; callers decide what to do
// with a session the server no longer knows.
func Resync(st *State, sessions []Entry) Status {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.snap.SessionID == "" {
		st.snap.DumpID = ""
		return StatusNotSynced
	}
	for _, e := range sessions {
		if e.SessionID != st.snap.SessionID {
			continue
		}
		if e.DumpID == "" {
			st.snap.DumpID = ""
			return StatusNoDump
		}
		st.snap.DumpID = e.DumpID
		st.snap.LastSelectedDumpID = e.DumpID
		return StatusSynced
	}
	st.snap.DumpID = ""
	return StatusNotFound
}
