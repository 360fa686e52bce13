package watch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tutu-network/agentcore/internal/domain"
)

func TestCheckCommandRejectsShellMetacharacters(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		ok   bool
	}{
		{"clean", []string{"true"}, true},
		{"semicolon", []string{"true; rm -rf /"}, false},
		{"pipe", []string{"echo", "a|b"}, false},
		{"backtick", []string{"echo", "`whoami`"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkCommand(context.Background(), tc.argv)
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected rejection, got nil")
			}
		})
	}
}

func TestSwitchTerminality(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	sess, err := store.BeginSwitch("plan-a", 10, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.transition(sess.ID, domain.SwitchCommitted); err != nil {
		t.Fatalf("first transition should succeed: %v", err)
	}
	if _, err := store.transition(sess.ID, domain.SwitchRolledBack); err != domain.ErrSessionTerminal {
		t.Fatalf("second transition should be rejected as terminal, got %v", err)
	}
}

func TestWatcherLadderAdvancesAndResets(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatal(err)
	}

	w, err := store.AddWatcher(domain.Watcher{Name: "svc", Check: domain.HealthCheck{Kind: domain.CheckCommand, Argv: []string{"false"}}})
	if err != nil {
		t.Fatal(err)
	}

	step, ok := store.recordFailure(w.ID)
	if !ok || step != domain.EscalationRestart {
		t.Fatalf("expected first rung restart, got %v ok=%v", step, ok)
	}
	step, ok = store.recordFailure(w.ID)
	if !ok || step != domain.EscalationRollback {
		t.Fatalf("expected second rung rollback, got %v ok=%v", step, ok)
	}

	store.recordSuccess(w.ID)
	got, err := store.GetWatcher(w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Step != 0 || got.RetryCount != 0 {
		t.Fatalf("expected reset to first rung, got step=%d retry=%d", got.Step, got.RetryCount)
	}
}
