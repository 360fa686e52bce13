// Package watch implements the deploy-transaction and health-watcher
// engine: switch sessions run a Probation window with automatic
// commit/rollback, and standalone watchers climb an escalation ladder
// on consecutive health-check failures.
package watch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/idgen"
)

// state is the durable form persisted to the state file, mirroring
// the on-disk layout's watch/sessions + watch/watchers split but kept
// as one file for atomic save semantics.
type state struct {
	Sessions map[string]*domain.SwitchSession `json:"sessions"`
	Watchers map[string]*domain.Watcher       `json:"watchers"`
}

// Store owns every switch session and watcher in memory, serialized
// by a single mutex exactly as spec.md §5 requires for switch state
// transitions ("serialized per session by an exclusive lock").
type Store struct {
	mu        sync.Mutex
	path      string
	st        state
}

func Open(stateFile string) (*Store, error) {
	s := &Store{
		path: stateFile,
		st: state{
			Sessions: map[string]*domain.SwitchSession{},
			Watchers: map[string]*domain.Watcher{},
		},
	}
	if err := os.MkdirAll(filepath.Dir(stateFile), 0700); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(stateFile); err == nil {
		_ = json.Unmarshal(data, &s.st)
	}
	return s, nil
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// BeginSwitch creates a new session in Probation.
func (s *Store) BeginSwitch(plan string, ttlSecs int, checks []domain.HealthCheck) (domain.SwitchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &domain.SwitchSession{
		ID:           idgen.New(),
		Plan:         plan,
		TTLSecs:      ttlSecs,
		StartedAt:    time.Now().UTC(),
		HealthChecks: checks,
		State:        domain.SwitchProbation,
	}
	s.st.Sessions[sess.ID] = sess
	if err := s.saveLocked(); err != nil {
		return domain.SwitchSession{}, err
	}
	return *sess, nil
}

func (s *Store) GetSwitch(id string) (domain.SwitchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.st.Sessions[id]
	if !ok {
		return domain.SwitchSession{}, domain.ErrSessionNotFound
	}
	return *sess, nil
}

// transition moves a session to a terminal state exactly once. Any
// caller racing to transition an already-terminal session observes
// ErrSessionTerminal, matching the "exactly one terminal transition"
// invariant.
func (s *Store) transition(id string, to domain.SwitchState) (domain.SwitchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.st.Sessions[id]
	if !ok {
		return domain.SwitchSession{}, domain.ErrSessionNotFound
	}
	if sess.State.IsTerminal() {
		return domain.SwitchSession{}, domain.ErrSessionTerminal
	}
	sess.State = to
	if err := s.saveLocked(); err != nil {
		return domain.SwitchSession{}, err
	}
	return *sess, nil
}

// ListActiveSwitches returns every session still in Probation, for
// the background probation loop to poll.
func (s *Store) ListActiveSwitches() []domain.SwitchSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SwitchSession
	for _, sess := range s.st.Sessions {
		if !sess.State.IsTerminal() {
			out = append(out, *sess)
		}
	}
	return out
}

// ─── Watchers ───────────────────────────────────────────────────────────────

func (s *Store) AddWatcher(w domain.Watcher) (domain.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == "" {
		w.ID = idgen.New()
	}
	if len(w.Ladder) == 0 {
		w.Ladder = []domain.EscalationStep{domain.EscalationRestart, domain.EscalationRollback, domain.EscalationNotify}
	}
	s.st.Watchers[w.ID] = &w
	if err := s.saveLocked(); err != nil {
		return domain.Watcher{}, err
	}
	return w, nil
}

func (s *Store) GetWatcher(id string) (domain.Watcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.Watchers[id]
	if !ok {
		return domain.Watcher{}, domain.ErrWatcherNotFound
	}
	return *w, nil
}

func (s *Store) ListWatchers() []domain.Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Watcher, 0, len(s.st.Watchers))
	for _, w := range s.st.Watchers {
		out = append(out, *w)
	}
	return out
}

func (s *Store) RemoveWatcher(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Watchers[id]; !ok {
		return domain.ErrWatcherNotFound
	}
	delete(s.st.Watchers, id)
	return s.saveLocked()
}

// recordSuccess resets a watcher's ladder to its first rung.
func (s *Store) recordSuccess(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.st.Watchers[id]; ok {
		w.RetryCount = 0
		w.Step = 0
		s.saveLocked()
	}
}

// recordFailure advances a watcher's ladder by one rung, capped at
// the last rung, and returns the rung to execute.
func (s *Store) recordFailure(id string) (domain.EscalationStep, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.Watchers[id]
	if !ok || len(w.Ladder) == 0 {
		return "", false
	}
	w.RetryCount++
	step := w.Ladder[w.Step]
	if w.Step < len(w.Ladder)-1 {
		w.Step++
	}
	s.saveLocked()
	return step, true
}
