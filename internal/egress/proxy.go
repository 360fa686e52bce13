// Package egress is the only sanctioned network path for untrusted or
// approved-capability subprocesses: a domain-allowlisted HTTP CONNECT
// forward proxy bound to localhost, with no persistent state of its
// own, grounded on rpcsock's listener/shutdown idiom and the
// golang.org/x/time/rate limiter mesh's AcceptLimiter already uses.
package egress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Allowlist is a fixed set of domains, including wildcard entries
// like "*.example.com", that CONNECT targets are checked against.
type Allowlist struct {
	exact      map[string]bool
	wildcards  []string
}

// NewAllowlist builds an Allowlist from the raw domain strings in
// config. A "*.example.com" entry matches "example.com" and any
// subdomain of it; anything else matches only the literal host.
func NewAllowlist(domains []string) *Allowlist {
	a := &Allowlist{exact: make(map[string]bool)}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if strings.HasPrefix(d, "*.") {
			a.wildcards = append(a.wildcards, d[2:])
		} else {
			a.exact[d] = true
		}
	}
	return a
}

// Allows reports whether host (no port) is permitted.
func (a *Allowlist) Allows(host string) bool {
	host = strings.ToLower(host)
	if a.exact[host] {
		return true
	}
	for _, suffix := range a.wildcards {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Proxy is an HTTP CONNECT forward proxy. It never inspects tunneled
// bytes once a CONNECT is admitted — confidentiality of the
// tunneled stream is the caller's TLS, same as a browser's forward
// proxy contract.
type Proxy struct {
	allow   *Allowlist
	limiter *rate.Limiter

	mu sync.Mutex
}

// New builds a Proxy enforcing allow, rate-limited globally at
// ratePerSecond with the given burst (both configurable via
// EgressConfig; spec.md leaves the exact figures to the
// implementation, so these default to generous values that still
// blunt a runaway subprocess).
func New(allow *Allowlist, ratePerSecond float64, burst int) *Proxy {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Proxy{allow: allow, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Serve listens on addr (which must be a loopback address — the
// proxy is never meant to be reachable off-host) and blocks until ctx
// is cancelled.
func (p *Proxy) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: p,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "only CONNECT is supported", http.StatusMethodNotAllowed)
		return
	}
	if !p.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	if !p.allow.Allows(host) {
		log.Printf("[egress] rejecting CONNECT to %s: not on allowlist", host)
		http.Error(w, "domain not allowed", http.StatusForbidden)
		return
	}

	dctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	var dialer net.Dialer
	upstream, err := dialer.DialContext(dctx, "tcp", r.Host)
	if err != nil {
		http.Error(w, fmt.Sprintf("dial upstream: %v", err), http.StatusBadGateway)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}
	client, _, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(client, "HTTP/1.1 200 Connection Established\r\n\r\n")
	pipe(client, upstream)
}

// pipe copies bytes bidirectionally until either side closes, the way
// every CONNECT proxy tunnel does once the handshake completes.
func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
	a.Close()
	b.Close()
}
