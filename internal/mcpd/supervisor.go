package mcpd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/receipt"
)

// managedServer is one declared server plus its current runtime state.
type managedServer struct {
	cfg     domain.MCPServerConfig
	proc    *process
	status  domain.ServerStatus
	backoff time.Duration
}

// Supervisor owns the full set of declared MCP servers and runs their
// health-check loop.
type Supervisor struct {
	mu          sync.Mutex
	servers     map[string]*managedServer
	egressProxy string
	receipts    *receipt.Client
}

func New(egressProxy string, receipts *receipt.Client) *Supervisor {
	return &Supervisor{
		servers:     make(map[string]*managedServer),
		egressProxy: egressProxy,
		receipts:    receipts,
	}
}

// Reconcile brings the running set in line with desired: stops servers
// no longer declared, starts newly declared ones, leaves unchanged
// ones alone.
func (s *Supervisor) Reconcile(ctx context.Context, desired []domain.MCPServerConfig) error {
	s.mu.Lock()
	want := make(map[string]domain.MCPServerConfig, len(desired))
	for _, d := range desired {
		want[d.Name] = d
	}

	var toStop []string
	for name := range s.servers {
		if _, ok := want[name]; !ok {
			toStop = append(toStop, name)
		}
	}
	s.mu.Unlock()

	for _, name := range toStop {
		if err := s.Stop(ctx, name); err != nil {
			log.Printf("[mcpd] stop %s during reconcile: %v", name, err)
		}
		s.mu.Lock()
		delete(s.servers, name)
		s.mu.Unlock()
	}

	for name, cfg := range want {
		s.mu.Lock()
		_, exists := s.servers[name]
		if !exists {
			s.servers[name] = &managedServer{cfg: cfg, status: domain.ServerStatus{Name: name}}
		} else {
			s.servers[name].cfg = cfg
		}
		s.mu.Unlock()
		if !exists {
			if err := s.Start(ctx, name); err != nil {
				log.Printf("[mcpd] start %s during reconcile: %v", name, err)
			}
		}
	}
	return nil
}

// Start launches the named server if it isn't already running.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	ms, ok := s.servers[name]
	if !ok {
		s.mu.Unlock()
		return domain.ErrServerNotFound
	}
	if ms.proc != nil && ms.proc.alive() {
		s.mu.Unlock()
		return domain.ErrServerRunning
	}
	cfg := ms.cfg
	s.mu.Unlock()

	env, err := buildEnv(cfg, s.egressProxy)
	if err != nil {
		return fmt.Errorf("build env for %s: %w", name, err)
	}

	proc, err := startProcess(cfg.Command, cfg.Args, env)
	if err != nil {
		s.mu.Lock()
		ms.status.LastError = err.Error()
		s.mu.Unlock()
		s.postReceipt(ctx, "mcpd.start_failed", name)
		return err
	}

	s.mu.Lock()
	ms.proc = proc
	ms.status.Running = true
	ms.status.PID = proc.pid()
	ms.status.LastStartedAt = proc.startedAt
	ms.status.LastError = ""
	s.mu.Unlock()

	s.postReceipt(ctx, "mcpd.start", name)
	return nil
}

// Stop terminates the named server.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	s.mu.Lock()
	ms, ok := s.servers[name]
	if !ok {
		s.mu.Unlock()
		return domain.ErrServerNotFound
	}
	proc := ms.proc
	s.mu.Unlock()

	if proc == nil || !proc.alive() {
		s.mu.Lock()
		ms.status.Running = false
		s.mu.Unlock()
		return nil
	}

	err := proc.stop(ctx)

	s.mu.Lock()
	ms.status.Running = false
	ms.status.PID = 0
	s.mu.Unlock()

	s.postReceipt(ctx, "mcpd.stop", name)
	return err
}

// Restart stops then starts the named server, resetting its backoff.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	if ms, ok := s.servers[name]; ok {
		ms.backoff = 0
	}
	s.mu.Unlock()
	s.postReceipt(ctx, "mcpd.restart", name)
	return s.Start(ctx, name)
}

// Statuses returns a snapshot of every declared server's status.
func (s *Supervisor) Statuses() []domain.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ServerStatus, 0, len(s.servers))
	for _, ms := range s.servers {
		out = append(out, ms.status)
	}
	return out
}

// Status returns one server's status.
func (s *Supervisor) Status(name string) (domain.ServerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.servers[name]
	if !ok {
		return domain.ServerStatus{}, domain.ErrServerNotFound
	}
	return ms.status, nil
}

// RunHealthLoop checks every declared server every healthCheckPeriod;
// a server that has exited is restarted with exponential backoff and
// its restart counter incremented for audit.
func (s *Supervisor) RunHealthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Supervisor) checkAll(ctx context.Context) {
	s.mu.Lock()
	var dead []string
	for name, ms := range s.servers {
		if ms.proc != nil && ms.status.Running && !ms.proc.alive() {
			dead = append(dead, name)
		}
	}
	s.mu.Unlock()

	for _, name := range dead {
		s.mu.Lock()
		ms := s.servers[name]
		if ms.backoff == 0 {
			ms.backoff = initialBackoff
		} else {
			ms.backoff *= 2
			if ms.backoff > maxBackoff {
				ms.backoff = maxBackoff
			}
		}
		ms.status.Running = false
		ms.status.RestartCount++
		stderr := ms.proc.stderr.String()
		if stderr != "" {
			ms.status.LastError = stderr
		}
		wait := ms.backoff
		attempt := ms.status.RestartCount
		s.mu.Unlock()

		log.Printf("[mcpd] server %s exited, restarting in %s (attempt %d)", name, wait, attempt)
		s.postReceipt(ctx, "mcpd.crash", name)
		crashRestarts.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := s.Start(ctx, name); err != nil {
			log.Printf("[mcpd] restart %s failed: %v", name, err)
		}
	}
}

func (s *Supervisor) postReceipt(ctx context.Context, eventType, name string) {
	if s.receipts == nil {
		return
	}
	s.receipts.Post(ctx, eventType, name)
}

// buildEnv composes the subprocess environment: the current process
// environment, plus standard proxy vars when the server declares an
// allowed-domains egress policy, plus the server's own env and secret
// file, in that precedence order.
func buildEnv(cfg domain.MCPServerConfig, egressProxy string) ([]string, error) {
	env := os.Environ()

	if len(cfg.AllowedDomains) > 0 && egressProxy != "" {
		env = append(env,
			"HTTP_PROXY="+egressProxy,
			"HTTPS_PROXY="+egressProxy,
			"NO_PROXY=localhost,127.0.0.1",
		)
	}

	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	if cfg.SecretFile != "" {
		data, err := os.ReadFile(cfg.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("read secret file: %w", err)
		}
		name := cfg.SecretEnvVar
		if name == "" {
			name = "MCP_SECRET"
		}
		env = append(env, name+"="+strings.TrimRight(string(data), "\n"))
	}

	return env, nil
}
