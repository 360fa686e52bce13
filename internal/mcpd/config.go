// Package mcpd supervises a declared set of subprocess MCP servers:
// starting, stopping, restarting with backoff, injecting egress/secret
// environment, and reconciling desired vs running state on reload.
package mcpd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tutu-network/agentcore/internal/domain"
)

// fileConfig is the on-disk shape of the declarative server list.
type fileConfig struct {
	Servers []domain.MCPServerConfig `json:"servers"`
}

// LoadConfig reads the declarative server list from path. A missing
// file is treated as an empty configuration so a fresh install starts
// clean.
func LoadConfig(path string) ([]domain.MCPServerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, s := range fc.Servers {
		if s.Name == "" || s.Command == "" {
			return nil, fmt.Errorf("server config missing name or command")
		}
	}
	return fc.Servers, nil
}
