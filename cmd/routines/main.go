// Command routines runs the recurring-task scheduler: cron, interval,
// and event triggers for background system work.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/receipt"
	"github.com/tutu-network/agentcore/internal/routines"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[routines] load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Routines.StateFile), 0700); err != nil {
		log.Fatalf("[routines] create state dir: %v", err)
	}
	store, err := routines.Open(cfg.Routines.StateFile, cfg.Routines.HistoryCap)
	if err != nil {
		log.Fatalf("[routines] open store: %v", err)
	}

	receipts := receipt.New("routines", cfg.Agentd.SocketPath)
	sched := routines.NewScheduler(store, receipts, cfg.Agentd.SocketPath)
	daemon := routines.New(store, sched)

	srv, err := rpcsock.New(cfg.Routines.SocketPath)
	if err != nil {
		log.Fatalf("[routines] listen: %v", err)
	}
	daemon.Mount(srv.Router())
	rpcsock.MountDefaultHealth(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	log.Printf("[routines] serving on %s", cfg.Routines.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[routines] serve error: %v", err)
	}
	srv.Close()
}
