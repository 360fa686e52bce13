// Command keyd runs the custodial signing daemon: it generates and
// stores wallet keys for two chain families, signs bounded payloads
// under policy, and never touches the network.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/keyd"
	"github.com/tutu-network/agentcore/internal/receipt"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

// masterSecret resolves the process-owned secret the master key is
// derived from. It is never persisted: only the Argon2id salt is.
func masterSecret() string {
	if s := os.Getenv("AGENTCORE_KEYD_SECRET"); s != "" {
		return s
	}
	if data, err := os.ReadFile("/etc/machine-id"); err == nil && len(data) > 0 {
		return string(data)
	}
	log.Printf("[keyd] WARNING: no AGENTCORE_KEYD_SECRET and no /etc/machine-id; using a fixed fallback secret unsuitable for production")
	return "agentcore-dev-fallback-secret"
}

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[keyd] load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Keyd.StateDir, 0700); err != nil {
		log.Fatalf("[keyd] create state dir: %v", err)
	}

	master, err := keyd.LoadOrCreateMasterKey(cfg.Keyd.StateDir, masterSecret())
	if err != nil {
		log.Fatalf("[keyd] derive master key: %v", err)
	}
	defer master.Zeroize()

	store, err := keyd.Open(cfg.Keyd.StateDir, master)
	if err != nil {
		log.Fatalf("[keyd] open store: %v", err)
	}
	defer store.ZeroizeAll()

	policy := keyd.NewPolicyEngine(store.Policy())
	receipts := receipt.New("keyd", cfg.Agentd.SocketPath)
	daemon := keyd.New(store, policy, receipts)

	srv, err := rpcsock.New(cfg.Keyd.SocketPath)
	if err != nil {
		log.Fatalf("[keyd] listen: %v", err)
	}
	daemon.Mount(srv.Router())
	rpcsock.MountDefaultHealth(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[keyd] serving on %s", cfg.Keyd.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[keyd] serve error: %v", err)
	}
	daemon.Shutdown(context.Background())
	srv.Close()
}
