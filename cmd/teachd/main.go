// Command teachd observes the running system, learns recurring
// patterns from what it sees, and produces knowledge documents other
// daemons and agents can retrieve.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/rpcsock"
	"github.com/tutu-network/agentcore/internal/teachd"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[teachd] load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Teachd.StateDir, 0700); err != nil {
		log.Fatalf("[teachd] create state dir: %v", err)
	}
	store, err := teachd.Open(cfg.Teachd.StateDir)
	if err != nil {
		log.Fatalf("[teachd] open store: %v", err)
	}

	daemon := teachd.New(store, cfg.Teachd.WatchedUnits)

	srv, err := rpcsock.New(cfg.Teachd.SocketPath)
	if err != nil {
		log.Fatalf("[teachd] listen: %v", err)
	}
	daemon.Mount(srv.Router())
	rpcsock.MountDefaultHealth(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go daemon.Run(ctx)

	log.Printf("[teachd] serving on %s", cfg.Teachd.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[teachd] serve error: %v", err)
	}
	srv.Close()
}
