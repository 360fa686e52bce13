// Package config loads and saves the single agentcore.toml file shared
// by every daemon, one section per daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds every daemon's settings plus the shared node identity.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Agentd   AgentdConfig   `toml:"agentd"`
	Watch    WatchConfig    `toml:"watch"`
	Routines RoutinesConfig `toml:"routines"`
	Mesh     MeshConfig     `toml:"mesh"`
	Keyd     KeydConfig     `toml:"keyd"`
	Teachd   TeachdConfig   `toml:"teachd"`
	MCPD     MCPDConfig     `toml:"mcpd"`
	Egress   EgressConfig   `toml:"egress"`
}

// NodeConfig identifies this machine across every daemon and the mesh.
type NodeConfig struct {
	ID       string `toml:"id"`
	Label    string `toml:"label"`
	DataHome string `toml:"data_home"`
}

// AgentdConfig controls the ledger/memory daemon.
type AgentdConfig struct {
	SocketPath     string `toml:"socket_path"`
	DBDir          string `toml:"db_dir"`
	BackupDir      string `toml:"backup_dir"`
	BackupRetain   int    `toml:"backup_retain_days"`
	FTSEnabled     bool   `toml:"fts_enabled"`
}

// WatchConfig controls the deploy-transaction engine.
type WatchConfig struct {
	SocketPath       string `toml:"socket_path"`
	StateFile        string `toml:"state_file"`
	DefaultTTLSecs   int    `toml:"default_ttl_secs"`
	HealthPollSecs   int    `toml:"health_poll_secs"`
}

// RoutinesConfig controls the scheduler.
type RoutinesConfig struct {
	SocketPath  string   `toml:"socket_path"`
	StateFile   string   `toml:"state_file"`
	HistoryCap  int      `toml:"history_cap"`
	ShellAllow  []string `toml:"shell_allowlist"`
}

// MeshConfig controls the P2P mesh daemon.
type MeshConfig struct {
	SocketPath   string `toml:"socket_path"`
	ListenAddr   string `toml:"listen_addr"`
	StateDir     string `toml:"state_dir"`
	InviteTTLSecs int   `toml:"invite_ttl_secs"`
}

// KeydConfig controls the custodial signing daemon.
type KeydConfig struct {
	SocketPath string `toml:"socket_path"`
	StateDir   string `toml:"state_dir"`
}

// TeachdConfig controls the observe/learn/teach daemon.
type TeachdConfig struct {
	SocketPath      string   `toml:"socket_path"`
	StateDir        string   `toml:"state_dir"`
	ObserveInterval int      `toml:"observe_interval_secs"`
	LearnInterval   int      `toml:"learn_interval_secs"`
	RetainDays      int      `toml:"retain_days"`
	WatchedUnits    []string `toml:"watched_units"`
}

// MCPDConfig controls the MCP subprocess supervisor.
type MCPDConfig struct {
	SocketPath    string `toml:"socket_path"`
	ConfigFile    string `toml:"config_file"`
	HealthSecs    int    `toml:"health_check_secs"`
	EgressProxy   string `toml:"egress_proxy"`
}

// EgressConfig controls the forward CONNECT proxy.
type EgressConfig struct {
	ListenAddr       string   `toml:"listen_addr"`
	AllowedDomains   []string `toml:"allowed_domains"`
	RatePerSecond    float64  `toml:"rate_per_second"`
	RateBurst        int      `toml:"rate_burst"`
}

// Home returns the root data directory, $AGENTCORE_HOME or
// ~/.agentcore.
func Home() string {
	if env := os.Getenv("AGENTCORE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentcore")
}

// Default returns the baseline configuration. Every socket lives under
// Home()/run, every daemon's durable state under Home()/<daemon>.
func Default() Config {
	h := Home()
	sock := func(name string) string { return filepath.Join(h, "run", name+".sock") }

	return Config{
		Node: NodeConfig{Label: "node", DataHome: h},
		Agentd: AgentdConfig{
			SocketPath:   sock("agentd"),
			DBDir:        filepath.Join(h, "agentd"),
			BackupDir:    filepath.Join(h, "agentd", "backups"),
			BackupRetain: 7,
			FTSEnabled:   true,
		},
		Watch: WatchConfig{
			SocketPath:     sock("watch"),
			StateFile:      filepath.Join(h, "watch", "state.json"),
			DefaultTTLSecs: 300,
			HealthPollSecs: 5,
		},
		Routines: RoutinesConfig{
			SocketPath: sock("routines"),
			StateFile:  filepath.Join(h, "routines", "routines.json"),
			HistoryCap: 50,
			ShellAllow: []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"},
		},
		Mesh: MeshConfig{
			SocketPath:    sock("mesh"),
			ListenAddr:    "0.0.0.0:18800",
			StateDir:      filepath.Join(h, "mesh"),
			InviteTTLSecs: 600,
		},
		Keyd: KeydConfig{
			SocketPath: sock("keyd"),
			StateDir:   filepath.Join(h, "keyd"),
		},
		Teachd: TeachdConfig{
			SocketPath:      sock("teachd"),
			StateDir:        filepath.Join(h, "teachd"),
			ObserveInterval: 30,
			LearnInterval:   300,
			RetainDays:      7,
			WatchedUnits:    []string{"sshd.service", "systemd-journald.service"},
		},
		MCPD: MCPDConfig{
			SocketPath:  sock("mcpd"),
			ConfigFile:  filepath.Join(h, "mcp", "servers.json"),
			HealthSecs:  10,
			EgressProxy: "http://127.0.0.1:18888",
		},
		Egress: EgressConfig{
			ListenAddr:     "127.0.0.1:18888",
			AllowedDomains: []string{},
			RatePerSecond:  5,
			RateBurst:      10,
		},
	}
}

// Load reads Home()/agentcore.toml, falling back to Default when the
// file doesn't exist yet.
func Load() (Config, error) {
	cfg := Default()
	path := filepath.Join(Home(), "agentcore.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to Home()/agentcore.toml.
func Save(cfg Config) error {
	path := filepath.Join(Home(), "agentcore.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
