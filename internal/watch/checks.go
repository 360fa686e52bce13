package watch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

// shellMeta matches the characters routines and watch both refuse in
// command-check arguments, so a health check can never smuggle a
// shell pipeline through exec.CommandContext's literal argv.
var shellMeta = regexp.MustCompile("[;|&$`><\n]")

// RunCheck executes one of the four deterministic health check kinds
// with a bounded timeout. A non-nil error means the check failed.
func RunCheck(ctx context.Context, c domain.HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch c.Kind {
	case domain.CheckSystemdUnit:
		return checkSystemdUnit(ctx, c.Unit)
	case domain.CheckTCPPort:
		return checkTCPPort(ctx, c.Host, c.Port)
	case domain.CheckHTTPGet:
		return checkHTTPGet(ctx, c.URL, c.ExpectStatus)
	case domain.CheckCommand:
		return checkCommand(ctx, c.Argv)
	default:
		return domain.ErrBadHealthCheck
	}
}

func checkSystemdUnit(ctx context.Context, unit string) error {
	if unit == "" || shellMeta.MatchString(unit) {
		return domain.ErrBadHealthCheck
	}
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", unit)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("unit %s not active: %w", unit, err)
	}
	return nil
}

func checkTCPPort(ctx context.Context, host string, port int) error {
	if host == "" || port <= 0 || port > 65535 {
		return domain.ErrBadHealthCheck
	}
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	conn.Close()
	return nil
}

func checkHTTPGet(ctx context.Context, url string, expect int) error {
	if url == "" || (!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://")) {
		return domain.ErrBadHealthCheck
	}
	if expect == 0 {
		expect = http.StatusOK
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != expect {
		return fmt.Errorf("get %s: expected status %d, got %d", url, expect, resp.StatusCode)
	}
	return nil
}

func checkCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return domain.ErrBadHealthCheck
	}
	for _, a := range argv {
		if shellMeta.MatchString(a) {
			return domain.ErrShellMetacharacter
		}
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %v failed: %w", argv, err)
	}
	return nil
}
