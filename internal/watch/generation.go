package watch

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// GenerationManager wraps whatever atomic-generation primitive the
// host OS exposes. The core never constructs or applies a generation
// itself — per spec.md's explicit non-goal — it only invokes
// "activate previous generation" as a single opaque step.
type GenerationManager interface {
	ActivatePrevious(ctx context.Context) error
}

// ScriptGenerationManager shells out to a configurable activation
// command with "switch --rollback" appended to Args, the form in which
// NixOS's nixos-rebuild activates the previous generation. Any host
// providing an entrypoint that accepts those arguments can be wrapped
// the same way.
type ScriptGenerationManager struct {
	ActivatePath string
	Args         []string
}

func (g ScriptGenerationManager) ActivatePrevious(ctx context.Context) error {
	if g.ActivatePath == "" {
		return fmt.Errorf("no generation activation path configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	args := append([]string{}, g.Args...)
	args = append(args, "switch", "--rollback")
	cmd := exec.CommandContext(ctx, g.ActivatePath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("activate previous generation: %w: %s", err, out)
	}
	return nil
}
