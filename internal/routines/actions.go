package routines

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/watch"
)

var shellMeta = regexp.MustCompile("[;|&$`><\n]")

// interpreterAllowlist bounds Command actions to a fixed set of
// interpreter paths. Path and Args are a literal argv passed straight
// to exec.CommandContext; an allowlisted shell given "-c" and a script
// argument is accepted when no argument carries a shell metacharacter.
var interpreterAllowlist = map[string]bool{
	"/bin/bash":      true,
	"/usr/bin/bash":  true,
	"/bin/sh":        true,
	"/usr/bin/env":   true,
	"/usr/bin/python3": true,
}

// ValidateAction rejects a Command action whose interpreter isn't
// allowlisted or whose arguments carry shell metacharacters, and a
// Webhook action whose URL isn't http/https.
func ValidateAction(a domain.Action) error {
	switch a.Kind {
	case domain.ActionCommand:
		if !interpreterAllowlist[a.Path] {
			return domain.ErrDisallowedCommand
		}
		for _, arg := range a.Args {
			if shellMeta.MatchString(arg) {
				return domain.ErrShellMetacharacter
			}
		}
	case domain.ActionWebhook:
		if !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
			return domain.ErrBadWebhookURL
		}
	}
	return nil
}

// ParseCronSchedule validates a five-field cron expression using the
// standard grammar (*/N, ranges, lists, literals).
func ParseCronSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadCronExpr, err)
	}
	return sched, nil
}

// RunAction dispatches one typed action with a bounded timeout,
// returning the error to be recorded in the routine's run history.
// maintenance is nil-safe: a MemoryMaintenance action run before a
// Scheduler has one configured fails closed with ErrNoMaintenanceClient.
func RunAction(ctx context.Context, a domain.Action, maintenance *maintenanceClient) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	switch a.Kind {
	case domain.ActionHealthCheck:
		return watch.RunCheck(ctx, a.Check)
	case domain.ActionServiceMonitor:
		return runServiceMonitor(ctx, a.Units)
	case domain.ActionLogScan:
		return runLogScan(ctx, a.PriorityFloor, a.Since)
	case domain.ActionMemoryMaintenance:
		if maintenance == nil {
			return domain.ErrNoMaintenanceClient
		}
		return maintenance.RunBackup(ctx)
	case domain.ActionCommand:
		if err := ValidateAction(a); err != nil {
			return err
		}
		cmd := exec.CommandContext(ctx, a.Path, a.Args...)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("command %s failed: %w: %s", a.Path, err, stderr.String())
		}
		return nil
	case domain.ActionWebhook:
		if err := ValidateAction(a); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook %s: %w", a.URL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook %s returned %s", a.URL, resp.Status)
		}
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func runServiceMonitor(ctx context.Context, units []string) error {
	for _, u := range units {
		if shellMeta.MatchString(u) {
			return domain.ErrShellMetacharacter
		}
		cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", u)
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("unit %s inactive: %w", u, err)
		}
	}
	return nil
}

func runLogScan(ctx context.Context, priorityFloor int, since time.Time) error {
	args := []string{"-p", fmt.Sprintf("0..%d", priorityFloor), "--no-pager"}
	if !since.IsZero() {
		args = append(args, "--since", since.Format("2006-01-02 15:04:05"))
	}
	cmd := exec.CommandContext(ctx, "journalctl", args...)
	return cmd.Run()
}
