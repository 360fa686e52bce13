package teachd

import (
	"context"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tutu-network/agentcore/internal/domain"
)

const observePeriod = 30 * time.Second

// Observer runs the OBSERVE loop: every 30s it samples CPU, memory,
// service-manager unit states, and a bounded journal tail.
type Observer struct {
	store *Store
	units []string
}

func NewObserver(store *Store, watchedUnits []string) *Observer {
	return &Observer{store: store, units: watchedUnits}
}

func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(observePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sample(ctx)
		}
	}
}

func (o *Observer) sample(ctx context.Context) {
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		o.record(domain.SourceCPU, map[string]any{"percent": pct[0]})
	} else if err != nil {
		log.Printf("[teachd] cpu sample failed: %v", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		o.record(domain.SourceMemory, map[string]any{
			"used_percent": vm.UsedPercent,
			"used_bytes":   vm.Used,
			"total_bytes":  vm.Total,
		})
	} else {
		log.Printf("[teachd] memory sample failed: %v", err)
	}

	for _, unit := range o.units {
		state, err := unitActiveState(ctx, unit)
		if err != nil {
			log.Printf("[teachd] unit state for %s failed: %v", unit, err)
			continue
		}
		o.record(domain.SourceService, map[string]any{"unit": unit, "state": state})
	}

	if lines, err := journalTail(ctx, 50); err == nil {
		for _, line := range lines {
			o.record(domain.SourceJournal, map[string]any{"line": line})
		}
	} else {
		log.Printf("[teachd] journal tail failed: %v", err)
	}
}

func (o *Observer) record(source domain.ObservationSource, data map[string]any) {
	if _, err := o.store.InsertObservation(domain.Observation{Source: source, Data: data}); err != nil {
		log.Printf("[teachd] insert observation failed: %v", err)
	}
}

func unitActiveState(ctx context.Context, unit string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, "systemctl", "is-active", unit).Output()
	state := strings.TrimSpace(string(out))
	if err != nil && state == "" {
		return "", err
	}
	return state, nil
}

// journalTail returns up to n recent journal lines, bounded so a
// single sample can never read an unbounded amount of log data.
func journalTail(ctx context.Context, n int) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, "journalctl", "-n", strconv.Itoa(n), "--no-pager", "-o", "short-iso").Output()
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(out), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}
