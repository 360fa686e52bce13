// Command egress runs the domain-allowlisted forward proxy every
// other daemon's subprocesses must tunnel outbound traffic through.
// It has no Unix control socket: its only surface is the CONNECT
// listener, bound to localhost.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/egress"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[egress] load config: %v", err)
	}

	allow := egress.NewAllowlist(cfg.Egress.AllowedDomains)
	proxy := egress.New(allow, cfg.Egress.RatePerSecond, cfg.Egress.RateBurst)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("[egress] listening on %s (%d allowed domains)", cfg.Egress.ListenAddr, len(cfg.Egress.AllowedDomains))
	if err := proxy.Serve(ctx, cfg.Egress.ListenAddr); err != nil {
		log.Printf("[egress] serve error: %v", err)
	}
}
