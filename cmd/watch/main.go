// Command watch runs the deploy-transaction and health-watcher
// daemon: applies-with-rollback probation sessions plus independent
// watcher escalation ladders on top of the host's atomic-generation
// primitive.
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
	"github.com/tutu-network/agentcore/internal/rpcsock"
	"github.com/tutu-network/agentcore/internal/watch"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[watch] load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Watch.StateFile), 0700); err != nil {
		log.Fatalf("[watch] create state dir: %v", err)
	}
	store, err := watch.Open(cfg.Watch.StateFile)
	if err != nil {
		log.Fatalf("[watch] open store: %v", err)
	}

	receipts := receipt.New("watch", cfg.Agentd.SocketPath)

	gen := watch.ScriptGenerationManager{
		ActivatePath: os.Getenv("AGENTCORE_GENERATION_ACTIVATE"),
	}
	engine := watch.NewEngine(store, gen, receipts, cfg.Watch.HealthPollSecs)
	daemon := watch.New(store, engine)

	srv, err := rpcsock.New(cfg.Watch.SocketPath)
	if err != nil {
		log.Fatalf("[watch] listen: %v", err)
	}
	daemon.Mount(srv.Router())
	rpcsock.MountDefaultHealth(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.RunProbationLoop(ctx)
	go engine.RunWatcherLoop(ctx)

	log.Printf("[watch] serving on %s", cfg.Watch.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[watch] serve error: %v", err)
	}
	srv.Close()
}
