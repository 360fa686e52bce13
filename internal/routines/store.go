// Package routines implements the recurring-task scheduler: cron,
// interval, and event triggers driving a fixed catalogue of typed
// actions, persisted to disk and reloaded on startup.
package routines

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/idgen"
)

type state struct {
	Routines map[string]*domain.Routine `json:"routines"`
	Order    []string                   `json:"order"` // insertion order, for due-checking "in insertion order within a tick"
}

// Store owns the routine set and persists it as JSON, matching the
// on-disk layout's routines/routines.json.
type Store struct {
	mu         sync.Mutex
	path       string
	historyCap int
	st         state
}

func Open(stateFile string, historyCap int) (*Store, error) {
	if historyCap <= 0 {
		historyCap = 50
	}
	s := &Store{path: stateFile, historyCap: historyCap, st: state{Routines: map[string]*domain.Routine{}}}
	if err := os.MkdirAll(filepath.Dir(stateFile), 0700); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(stateFile); err == nil {
		_ = json.Unmarshal(data, &s.st)
	}
	if s.st.Routines == nil {
		s.st.Routines = map[string]*domain.Routine{}
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

func (s *Store) Add(r domain.Routine) (domain.Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = idgen.New()
	}
	s.st.Routines[r.ID] = &r
	s.st.Order = append(s.st.Order, r.ID)
	if err := s.saveLocked(); err != nil {
		return domain.Routine{}, err
	}
	return r, nil
}

func (s *Store) Get(id string) (domain.Routine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.Routines[id]
	if !ok {
		return domain.Routine{}, domain.ErrRoutineNotFound
	}
	return *r, nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.Routines[id]; !ok {
		return domain.ErrRoutineNotFound
	}
	delete(s.st.Routines, id)
	for i, oid := range s.st.Order {
		if oid == id {
			s.st.Order = append(s.st.Order[:i], s.st.Order[i+1:]...)
			break
		}
	}
	return s.saveLocked()
}

// List returns every routine in insertion order.
func (s *Store) List() []domain.Routine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Routine, 0, len(s.st.Order))
	for _, id := range s.st.Order {
		if r, ok := s.st.Routines[id]; ok {
			out = append(out, *r)
		}
	}
	return out
}

// recordRun appends a bounded run entry.
func (s *Store) recordRun(id string, rec domain.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.Routines[id]
	if !ok {
		return
	}
	r.History = append(r.History, rec)
	if len(r.History) > s.historyCap {
		r.History = r.History[len(r.History)-s.historyCap:]
	}
	s.saveLocked()
}

// setNextRun records the next due time computed for a cron/interval
// trigger, so status queries can report it without re-parsing.
func (s *Store) setNextRun(id string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.st.Routines[id]; ok {
		r.NextRun = next
		s.saveLocked()
	}
}
