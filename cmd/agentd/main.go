// Command agentd runs the ledger and memory daemon: the tamper-evident
// audit trail every other core daemon posts receipts to.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tutu-network/agentcore/internal/agentd"
	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[agentd] load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Agentd.DBDir, 0700); err != nil {
		log.Fatalf("[agentd] create db dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Agentd.BackupDir, 0700); err != nil {
		log.Fatalf("[agentd] create backup dir: %v", err)
	}

	store, err := agentd.Open(cfg.Agentd.DBDir, cfg.Agentd.FTSEnabled)
	if err != nil {
		log.Fatalf("[agentd] open store: %v", err)
	}
	defer store.Close()

	daemon := agentd.New(store, cfg.Agentd.BackupDir, cfg.Agentd.BackupRetain)

	if err := os.MkdirAll(cfg.Node.DataHome+"/run", 0700); err != nil {
		log.Fatalf("[agentd] create runtime dir: %v", err)
	}
	srv, err := rpcsock.New(cfg.Agentd.SocketPath)
	if err != nil {
		log.Fatalf("[agentd] listen: %v", err)
	}
	daemon.Mount(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[agentd] serving on %s", cfg.Agentd.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[agentd] serve error: %v", err)
	}
	srv.Close()
}
