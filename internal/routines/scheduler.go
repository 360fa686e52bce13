package routines

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/receipt"
)

// Scheduler ticks once a minute, computing due routines in insertion
// order and running each one's action with a timeout, recording a
// run entry. Two routines due on the same tick run sequentially.
type Scheduler struct {
	store       *Store
	receipts    *receipt.Client
	maintenance *maintenanceClient
	tickPeriod  time.Duration
	events      chan string
}

func NewScheduler(store *Store, receipts *receipt.Client, agentdSock string) *Scheduler {
	return &Scheduler{
		store:       store,
		receipts:    receipts,
		maintenance: newMaintenanceClient(agentdSock),
		tickPeriod:  time.Minute,
		events:      make(chan string, 32),
	}
}

// FireEvent makes an event-triggered routine due on the next tick.
func (s *Scheduler) FireEvent(name string) {
	select {
	case s.events <- name:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	firedEvents := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-s.events:
			firedEvents[name] = true
		case <-ticker.C:
			s.tick(ctx, firedEvents)
			firedEvents = map[string]bool{}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, firedEvents map[string]bool) {
	now := time.Now().UTC()
	for _, r := range s.store.List() {
		if !s.isDue(r, now, firedEvents) {
			continue
		}
		s.runOne(ctx, r)
	}
}

func (s *Scheduler) isDue(r domain.Routine, now time.Time, firedEvents map[string]bool) bool {
	switch r.Trigger.Kind {
	case domain.TriggerCron:
		sched, err := ParseCronSchedule(r.Trigger.CronExpr)
		if err != nil {
			return false
		}
		if r.NextRun.IsZero() {
			s.store.setNextRun(r.ID, sched.Next(now))
			return false
		}
		if !now.Before(r.NextRun) {
			s.store.setNextRun(r.ID, sched.Next(now))
			return true
		}
		return false
	case domain.TriggerInterval:
		if r.NextRun.IsZero() {
			s.store.setNextRun(r.ID, now.Add(time.Duration(r.Trigger.IntervalSecs)*time.Second))
			return false
		}
		if !now.Before(r.NextRun) {
			s.store.setNextRun(r.ID, now.Add(time.Duration(r.Trigger.IntervalSecs)*time.Second))
			return true
		}
		return false
	case domain.TriggerEvent:
		return firedEvents[r.Trigger.EventName]
	default:
		return false
	}
}

func (s *Scheduler) runOne(ctx context.Context, r domain.Routine) {
	start := time.Now()
	err := RunAction(ctx, r.Action, s.maintenance)
	rec := domain.RunRecord{StartedAt: start, Duration: time.Since(start), OK: err == nil}
	if err != nil {
		rec.Error = err.Error()
		log.Printf("[routines] %s failed: %v", r.Name, err)
	}
	s.store.recordRun(r.ID, rec)
	s.receipts.Post(ctx, "routine.run", fmt.Sprintf(`{"routine":%q,"ok":%v}`, r.Name, err == nil))
}
