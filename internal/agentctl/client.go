package agentctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tutu-network/agentcore/internal/rpcsock"
)

// daemonClient is a thin JSON-over-Unix-socket client shared by every
// subcommand that talks to a running daemon.
type daemonClient struct {
	http *http.Client
}

func newDaemonClient(sockPath string) *daemonClient {
	return &daemonClient{http: rpcsock.DialClient(sockPath)}
}

func (c *daemonClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *daemonClient) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *daemonClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail != "" {
			return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Detail)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
