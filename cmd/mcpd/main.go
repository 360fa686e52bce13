// Command mcpd supervises declaratively configured MCP server
// subprocesses: starting, restarting on crash with backoff, and
// reloading when the configuration file changes on disk.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/mcpd"
	"github.com/tutu-network/agentcore/internal/receipt"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[mcpd] load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.MCPD.ConfigFile), 0700); err != nil {
		log.Fatalf("[mcpd] create config dir: %v", err)
	}

	receipts := receipt.New("mcpd", cfg.Agentd.SocketPath)
	supervisor := mcpd.New(cfg.MCPD.EgressProxy, receipts)
	daemon := mcpd.NewDaemon(supervisor, cfg.MCPD.ConfigFile)

	srv, err := rpcsock.New(cfg.MCPD.SocketPath)
	if err != nil {
		log.Fatalf("[mcpd] listen: %v", err)
	}
	daemon.Mount(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go daemon.Run(ctx)

	log.Printf("[mcpd] serving on %s", cfg.MCPD.SocketPath)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[mcpd] serve error: %v", err)
	}
	srv.Close()
}
