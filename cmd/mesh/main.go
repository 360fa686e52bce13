// Command mesh runs the P2P encrypted mesh daemon: hybrid classical +
// post-quantum authenticated channels between instances, invite-based
// pairing, rooms, and replay-safe framing.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tutu-network/agentcore/internal/config"
	"github.com/tutu-network/agentcore/internal/mesh"
	"github.com/tutu-network/agentcore/internal/receipt"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

func main() {
	syscall.Umask(0o077)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[mesh] load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Mesh.StateDir, 0700); err != nil {
		log.Fatalf("[mesh] create state dir: %v", err)
	}

	identity, err := mesh.LoadOrCreate(cfg.Mesh.StateDir, cfg.Mesh.ListenAddr)
	if err != nil {
		log.Fatalf("[mesh] load identity: %v", err)
	}
	defer identity.Zeroize()

	peers, err := mesh.OpenPeerStore(filepath.Join(cfg.Mesh.StateDir, "peers.json"))
	if err != nil {
		log.Fatalf("[mesh] open peer store: %v", err)
	}

	receipts := receipt.New("mesh", cfg.Agentd.SocketPath)
	daemon := mesh.New(identity, peers, receipts)
	dialer := mesh.NewDialer(peers, daemon.DialPeer)

	srv, err := rpcsock.New(cfg.Mesh.SocketPath)
	if err != nil {
		log.Fatalf("[mesh] listen: %v", err)
	}
	daemon.Mount(srv.Router())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := daemon.ListenTCP(ctx, cfg.Mesh.ListenAddr); err != nil {
			log.Printf("[mesh] tcp listener stopped: %v", err)
		}
	}()
	go dialer.Run(ctx)

	log.Printf("[mesh] control socket on %s, mesh transport on %s", cfg.Mesh.SocketPath, cfg.Mesh.ListenAddr)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("[mesh] serve error: %v", err)
	}
	srv.Close()
}
