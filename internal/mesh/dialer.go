package mesh

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tutu-network/agentcore/internal/domain"
)

const (
	staleAfter      = 90 * time.Second
	deadSweepPeriod = 30 * time.Second
	maxBackoff      = 60 * time.Second
)

// ConnectFunc dials and authenticates a peer, returning an established
// session. Dialer calls it on a backoff schedule for stale peers.
type ConnectFunc func(ctx context.Context, peer domain.PeerRecord) (*Session, error)

// Dialer sweeps the peer store for stale connections and redials them
// with exponential backoff, capped at maxBackoff.
type Dialer struct {
	peers   *PeerStore
	connect ConnectFunc

	mu       sync.Mutex
	backoffs map[string]time.Duration
	nextTry  map[string]time.Time
}

func NewDialer(peers *PeerStore, connect ConnectFunc) *Dialer {
	return &Dialer{
		peers:    peers,
		connect:  connect,
		backoffs: make(map[string]time.Duration),
		nextTry:  make(map[string]time.Time),
	}
}

func (d *Dialer) Run(ctx context.Context) {
	ticker := time.NewTicker(deadSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *Dialer) sweep(ctx context.Context) {
	now := time.Now().UTC()
	for _, peer := range d.peers.Stale(staleAfter) {
		d.mu.Lock()
		due, scheduled := d.nextTry[peer.InstanceID]
		d.mu.Unlock()
		if scheduled && now.Before(due) {
			continue
		}
		d.redial(ctx, peer)
	}
}

func (d *Dialer) redial(ctx context.Context, peer domain.PeerRecord) {
	sess, err := d.connect(ctx, peer)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		cur := d.backoffs[peer.InstanceID]
		if cur == 0 {
			cur = time.Second
		} else {
			cur *= 2
			if cur > maxBackoff {
				cur = maxBackoff
			}
		}
		d.backoffs[peer.InstanceID] = cur
		d.nextTry[peer.InstanceID] = time.Now().UTC().Add(cur)
		log.Printf("[mesh] redial %s failed, retry in %s: %v", peer.InstanceID, cur, err)
		return
	}

	delete(d.backoffs, peer.InstanceID)
	delete(d.nextTry, peer.InstanceID)
	_ = d.peers.SetState(peer.InstanceID, domain.PeerConnected)
	_ = sess // caller (server) owns the session lifecycle from here
}

// AcceptLimiter rate-limits inbound TCP connections per source
// address, defaulting to 5 accepts per 60 seconds as spec.md
// requires, to blunt connection-flood abuse of the listener.
type AcceptLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func NewAcceptLimiter() *AcceptLimiter {
	return &AcceptLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Every(12 * time.Second), // ~5 per 60s
		burst:    5,
	}
}

func (a *AcceptLimiter) Allow(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	lim, ok := a.limiters[host]
	if !ok {
		lim = rate.NewLimiter(a.r, a.burst)
		a.limiters[host] = lim
	}
	return lim.Allow()
}
