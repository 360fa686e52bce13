package watch

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/receipt"
)

// Engine drives the probation loop and the independent watcher loop
// on top of a Store, posting a receipt to agentd for every
// transition, per spec.md §4.2/§9.
type Engine struct {
	store      *Store
	gen        GenerationManager
	receipts   *receipt.Client
	pollSecs   int
	watcherSecs int
}

func NewEngine(store *Store, gen GenerationManager, receipts *receipt.Client, pollSecs int) *Engine {
	if pollSecs <= 0 {
		pollSecs = 5
	}
	return &Engine{store: store, gen: gen, receipts: receipts, pollSecs: pollSecs, watcherSecs: 10}
}

// RunProbationLoop evaluates every active session's health checks on
// each tick: one failure rolls it back, all checks passing for the
// full TTL commits it.
func (e *Engine) RunProbationLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.pollSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range e.store.ListActiveSwitches() {
				e.evaluateSession(ctx, sess)
			}
		}
	}
}

func (e *Engine) evaluateSession(ctx context.Context, sess domain.SwitchSession) {
	for _, c := range sess.HealthChecks {
		if err := RunCheck(ctx, c); err != nil {
			log.Printf("[watch] session %s check failed: %v", sess.ID, err)
			e.Rollback(ctx, sess.ID)
			return
		}
	}
	if time.Since(sess.StartedAt) >= time.Duration(sess.TTLSecs)*time.Second {
		e.Commit(ctx, sess.ID)
	}
}

func (e *Engine) Commit(ctx context.Context, id string) (domain.SwitchSession, error) {
	sess, err := e.store.transition(id, domain.SwitchCommitted)
	if err != nil {
		return domain.SwitchSession{}, err
	}
	e.receipts.Post(ctx, "switch.commit", fmt.Sprintf(`{"id":%q,"plan":%q}`, sess.ID, sess.Plan))
	return sess, nil
}

func (e *Engine) Rollback(ctx context.Context, id string) (domain.SwitchSession, error) {
	if err := e.gen.ActivatePrevious(ctx); err != nil {
		e.store.transition(id, domain.SwitchRolledBackFailed)
		e.receipts.Post(ctx, "switch.rollback_failed", fmt.Sprintf(`{"id":%q,"error":%q}`, id, err.Error()))
		return domain.SwitchSession{}, domain.ErrRollbackFailed
	}
	sess, err := e.store.transition(id, domain.SwitchRolledBack)
	if err != nil {
		return domain.SwitchSession{}, err
	}
	e.receipts.Post(ctx, "switch.rollback", fmt.Sprintf(`{"id":%q,"plan":%q}`, sess.ID, sess.Plan))
	return sess, nil
}

// RunWatcherLoop evaluates every configured watcher on its own
// interval-driven tick, climbing or resetting the escalation ladder.
// A watcher runs once its IntervalSec has elapsed since its last
// evaluation; the loop itself ticks every watcherSecs, so shorter
// intervals run at that rate.
func (e *Engine) RunWatcherLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(e.watcherSecs) * time.Second)
	defer ticker.Stop()

	lastRun := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, w := range e.store.ListWatchers() {
				if last, ok := lastRun[w.ID]; ok && now.Sub(last) < time.Duration(w.IntervalSec)*time.Second {
					continue
				}
				lastRun[w.ID] = now
				e.evaluateWatcher(ctx, w)
			}
		}
	}
}

func (e *Engine) evaluateWatcher(ctx context.Context, w domain.Watcher) {
	if err := RunCheck(ctx, w.Check); err == nil {
		e.store.recordSuccess(w.ID)
		return
	}

	step, ok := e.store.recordFailure(w.ID)
	if !ok {
		return
	}
	log.Printf("[watch] watcher %s escalating to %s", w.Name, step)
	switch step {
	case domain.EscalationRestart:
		e.restartUnit(ctx, w.Unit)
		e.receipts.Post(ctx, "watcher.restart", fmt.Sprintf(`{"watcher":%q,"unit":%q}`, w.Name, w.Unit))
	case domain.EscalationRollback:
		if err := e.gen.ActivatePrevious(ctx); err != nil {
			log.Printf("[watch] watcher %s rollback failed: %v", w.Name, err)
		}
		e.receipts.Post(ctx, "watcher.rollback", fmt.Sprintf(`{"watcher":%q}`, w.Name))
	case domain.EscalationNotify:
		e.receipts.Post(ctx, "watcher.notify", fmt.Sprintf(`{"watcher":%q}`, w.Name))
	}
}

func (e *Engine) restartUnit(ctx context.Context, unit string) {
	if unit == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "systemctl", "restart", unit)
	if err := cmd.Run(); err != nil {
		log.Printf("[watch] restart %s failed: %v", unit, err)
	}
}
