package agentd

import (
	"context"
	"os/exec"
	"strings"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// DiscoveryReport is the response shape for GET /system/discover.
type DiscoveryReport struct {
	ListeningPorts []PortInfo    `json:"listening_ports"`
	Processes      []ProcessInfo `json:"processes"`
	Units          []string      `json:"systemd_units"`
	Recognized     []string      `json:"recognized_services"`
}

type PortInfo struct {
	Port int    `json:"port"`
	PID  int32  `json:"pid"`
}

type ProcessInfo struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

// knownServices maps recognizable process names to a friendly label,
// mirroring the way the teacher's health.Checker matches named checks
// against a fixed vocabulary instead of free-form regex.
var knownServices = map[string]string{
	"postgres":     "postgresql",
	"redis-server": "redis",
	"nginx":        "nginx",
	"mysqld":       "mysql",
	"mongod":       "mongodb",
}

// Discover enumerates listening sockets, the process table, and
// systemd unit state, with a bounded timeout on the systemctl
// subprocess call.
func Discover(ctx context.Context) (DiscoveryReport, error) {
	var report DiscoveryReport

	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err == nil {
		for _, c := range conns {
			if c.Status == "LISTEN" {
				report.ListeningPorts = append(report.ListeningPorts, PortInfo{Port: int(c.Laddr.Port), PID: c.Pid})
			}
		}
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err == nil {
		for _, p := range procs {
			name, err := p.NameWithContext(ctx)
			if err != nil || name == "" {
				continue
			}
			report.Processes = append(report.Processes, ProcessInfo{PID: p.Pid, Name: name})
			if label, ok := knownServices[name]; ok {
				report.Recognized = append(report.Recognized, label)
			}
		}
	}

	units, err := listSystemdUnits(ctx)
	if err == nil {
		report.Units = units
	}

	return report, nil
}

func listSystemdUnits(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "systemctl", "list-units", "--type=service", "--no-legend", "--plain")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var units []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			units = append(units, fields[0])
		}
	}
	return units, nil
}
