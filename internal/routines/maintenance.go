package routines

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// maintenanceClient triggers agentd's own vacuum/prune cycle over its
// Unix socket, the same dial pattern receipt.Client uses.
type maintenanceClient struct {
	http *http.Client
}

func newMaintenanceClient(agentdSock string) *maintenanceClient {
	return &maintenanceClient{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", agentdSock)
				},
			},
		},
	}
}

// RunBackup asks agentd to VACUUM INTO a fresh backup and prune
// anything past its retention window.
func (c *maintenanceClient) RunBackup(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix/backup/create", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("agentd backup/create: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("agentd backup/create returned %s", resp.Status)
	}
	return nil
}
