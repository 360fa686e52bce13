package agentd

import (
	"context"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/tutu-network/agentcore/internal/domain"
)

// HealthSnapshot is the body of GET /health: a point-in-time read of
// the host, never failing outright even when individual gopsutil
// calls do — a stat that can't be read is simply omitted/zeroed.
type HealthSnapshot struct {
	Hostname    string        `json:"hostname"`
	UptimeSecs  uint64        `json:"uptime_secs"`
	CPUPercent  []float64     `json:"cpu_percent"`
	Memory      MemorySummary `json:"memory"`
	LoadAverage LoadAverage   `json:"load_average"`
	Disks       []DiskUsage   `json:"disks"`
}

type MemorySummary struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	SwapTotal  uint64 `json:"swap_total_bytes"`
	SwapUsed   uint64 `json:"swap_used_bytes"`
}

type LoadAverage struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

type DiskUsage struct {
	Mountpoint string  `json:"mountpoint"`
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	UsedPct    float64 `json:"used_pct"`
}

// Snapshot gathers the system health report. Every sub-reading is
// best-effort: a failing call just leaves its field at the zero
// value instead of failing the whole snapshot, per spec.md's "always
// succeeds unless the process itself is down".
func Snapshot(ctx context.Context) HealthSnapshot {
	var snap HealthSnapshot

	if hi, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = hi.Hostname
		snap.UptimeSecs = hi.Uptime
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		snap.CPUPercent = pct
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Memory.TotalBytes = vm.Total
		snap.Memory.UsedBytes = vm.Used
	}
	if sm, err := mem.SwapMemoryWithContext(ctx); err == nil {
		snap.Memory.SwapTotal = sm.Total
		snap.Memory.SwapUsed = sm.Used
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAverage = LoadAverage{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	}
	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		for _, p := range parts {
			usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
			if err != nil {
				continue
			}
			snap.Disks = append(snap.Disks, DiskUsage{
				Mountpoint: p.Mountpoint,
				TotalBytes: usage.Total,
				UsedBytes:  usage.Used,
				UsedPct:    usage.UsedPercent,
			})
		}
	}
	return snap
}

// SystemQuery is the typed request body for POST /system/query: a
// sum type over the four enumerated shapes spec.md §4.1 names,
// discriminated by Shape.
type SystemQuery struct {
	Shape      string `json:"shape"`
	Sort       string `json:"sort,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	NameFilter string `json:"name_filter,omitempty"`
}

// ProcessEntry is one row of a "processes" shaped system/query result.
type ProcessEntry struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// RunSystemQuery dispatches on req.Shape, returning domain.ErrInvalidQuery
// for any shape not in the enumerated set.
func RunSystemQuery(ctx context.Context, req SystemQuery) (any, error) {
	switch req.Shape {
	case "processes":
		return queryProcesses(ctx, req)
	case "disk":
		return Snapshot(ctx).Disks, nil
	case "hostname":
		if hi, err := host.InfoWithContext(ctx); err == nil {
			return map[string]string{"hostname": hi.Hostname}, nil
		}
		return map[string]string{"hostname": ""}, nil
	case "uptime":
		if hi, err := host.InfoWithContext(ctx); err == nil {
			return map[string]uint64{"uptime_secs": hi.Uptime}, nil
		}
		return map[string]uint64{"uptime_secs": 0}, nil
	default:
		return nil, domain.ErrInvalidQuery
	}
}

func queryProcesses(ctx context.Context, req SystemQuery) ([]ProcessEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, domain.ErrTimeout
	}

	entries := make([]ProcessEntry, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		if req.NameFilter != "" && !strings.Contains(name, req.NameFilter) {
			continue
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memInfo, _ := p.MemoryInfoWithContext(ctx)
		var rss uint64
		if memInfo != nil {
			rss = memInfo.RSS
		}
		entries = append(entries, ProcessEntry{PID: p.Pid, Name: name, CPUPercent: cpuPct, MemoryBytes: rss})
	}

	switch req.Sort {
	case "memory":
		sort.Slice(entries, func(i, j int) bool { return entries[i].MemoryBytes > entries[j].MemoryBytes })
	default:
		sort.Slice(entries, func(i, j int) bool { return entries[i].CPUPercent > entries[j].CPUPercent })
	}

	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	return entries, nil
}
