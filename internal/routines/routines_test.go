package routines

import (
	"path/filepath"
	"testing"

	"github.com/tutu-network/agentcore/internal/domain"
)

func TestValidateActionRejectsBadCommand(t *testing.T) {
	cases := []struct {
		name   string
		action domain.Action
		ok     bool
	}{
		{"allowlisted", domain.Action{Kind: domain.ActionCommand, Path: "/bin/bash", Args: []string{"-c", "true"}}, true},
		{"not allowlisted", domain.Action{Kind: domain.ActionCommand, Path: "/tmp/evil.sh"}, false},
		{"shell metacharacter", domain.Action{Kind: domain.ActionCommand, Path: "/bin/bash", Args: []string{"; rm -rf /"}}, false},
		{"webhook ok", domain.Action{Kind: domain.ActionWebhook, URL: "https://example.com/hook"}, true},
		{"webhook bad scheme", domain.Action{Kind: domain.ActionWebhook, URL: "ftp://example.com"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAction(tc.action)
			if tc.ok && err != nil {
				t.Fatalf("expected ok, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected rejection, got nil")
			}
		})
	}
}

func TestParseCronSchedule(t *testing.T) {
	cases := []string{"*/5 * * * *", "0 9-17 * * 1-5", "0,30 * * * *", "15 4 * * *"}
	for _, expr := range cases {
		if _, err := ParseCronSchedule(expr); err != nil {
			t.Errorf("expected %q to parse, got %v", expr, err)
		}
	}
	if _, err := ParseCronSchedule("not a cron expr"); err == nil {
		t.Error("expected invalid expression to fail")
	}
}

func TestStoreAddListOrder(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "routines.json"), 50)
	if err != nil {
		t.Fatal(err)
	}

	names := []string{"first", "second", "third"}
	for _, n := range names {
		if _, err := store.Add(domain.Routine{Name: n, Trigger: domain.Trigger{Kind: domain.TriggerEvent, EventName: "e"}}); err != nil {
			t.Fatal(err)
		}
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 routines, got %d", len(list))
	}
	for i, n := range names {
		if list[i].Name != n {
			t.Errorf("expected insertion order %v, got %s at index %d", names, list[i].Name, i)
		}
	}
}
