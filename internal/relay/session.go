// Package relay buffers campaign log lines between the external workflow
// runner and polling clients. Sessions live in process memory only: they are
// created implicitly on first ingestion, bounded to the most recent MaxLines
// entries, and lost on restart. The durable snapshot in storage is written
// separately and is never touched by Clear.
package relay

import (
	"sync"
	"time"
)

// MaxLines is the per-session line cap. Oldest lines are evicted first.
const MaxLines = 1000

// session is the in-memory log state for one campaign run.
type session struct {
	lines       []string
	lastUpdated time.Time
	complete    bool
	message     string
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Lines       []string
	LastUpdated time.Time
	Complete    bool
	Message     string
}

// Result describes the outcome of applying one ingestion batch.
type Result struct {
	Snapshot

	// Appended holds the lines actually added by this call, including a
	// completion message appended to the stream.
	Appended []string

	// Completed reports whether this batch carried a completion signal.
	Completed bool
}

// Store is a concurrency-safe keyed session map. A single mutex guards the
// whole append/complete/cap sequence so the line cap holds exactly under
// concurrent ingestion. State is not shared across process instances.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session

	now func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Apply folds one interpreted batch into the campaign's session, creating it
// if needed. Side effects run in a fixed order: append derived lines, handle
// completion, stamp lastUpdated, enforce the line cap.
func (s *Store) Apply(campaignID string, b Batch) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[campaignID]
	if !ok {
		sess = &session{}
		s.sessions[campaignID] = sess
	}

	appended := append([]string(nil), b.Lines...)
	sess.lines = append(sess.lines, b.Lines...)

	if b.Complete {
		sess.complete = true
		if b.CompletionMessage != "" {
			sess.message = b.CompletionMessage
			// Keep the completion message visible in the line stream,
			// without duplicating it when it is already the last line.
			if n := len(sess.lines); n == 0 || sess.lines[n-1] != b.CompletionMessage {
				sess.lines = append(sess.lines, b.CompletionMessage)
				appended = append(appended, b.CompletionMessage)
			}
		} else if len(b.Lines) > 0 {
			sess.message = b.Lines[len(b.Lines)-1]
		}
	}

	sess.lastUpdated = s.now()

	if len(sess.lines) > MaxLines {
		sess.lines = append([]string(nil), sess.lines[len(sess.lines)-MaxLines:]...)
	}

	return Result{
		Snapshot:  sess.snapshot(),
		Appended:  appended,
		Completed: b.Complete,
	}
}

// Get returns a copy of the campaign's session state. ok is false when no
// session exists; callers treat that as "no logs yet", not an error.
func (s *Store) Get(campaignID string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[campaignID]
	if !ok {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Clear removes the campaign's session entirely. The durable snapshot in
// storage is unaffected. Returns whether a session existed.
func (s *Store) Clear(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[campaignID]
	delete(s.sessions, campaignID)
	return ok
}

func (sess *session) snapshot() Snapshot {
	return Snapshot{
		Lines:       append([]string(nil), sess.lines...),
		LastUpdated: sess.lastUpdated,
		Complete:    sess.complete,
		Message:     sess.message,
	}
}
