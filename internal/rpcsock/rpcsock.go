// Package rpcsock bootstraps the Unix-domain-socket HTTP control
// surface shared by every core daemon. Each daemon mounts its own
// routes on the chi router this package builds and hands back.
package rpcsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tutu-network/agentcore/internal/domain"
)

// Server owns a Unix-domain listener and a chi router. Call Router to
// mount daemon-specific routes before calling Serve.
type Server struct {
	router   chi.Router
	sockPath string
	ln       net.Listener
	srv      *http.Server
}

// New removes any stale socket file at sockPath, listens on it with
// mode 0600, and installs the standard middleware stack.
func New(sockPath string) (*Server, error) {
	if err := os.RemoveAll(sockPath); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", sockPath, err)
	}
	if err := os.Chmod(sockPath, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	return &Server{
		router:   r,
		sockPath: sockPath,
		ln:       ln,
		srv:      &http.Server{Handler: r},
	}, nil
}

// Router returns the chi router for mounting daemon-specific routes.
func (s *Server) Router() chi.Router { return s.router }

// Serve blocks until ctx is cancelled, then shuts down with a bounded
// grace period.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// Close removes the socket file. Call after Serve returns.
func (s *Server) Close() error {
	return os.RemoveAll(s.sockPath)
}

// MountDefaultHealth installs a minimal {"status":"ok"} GET /health
// for daemons whose spec doesn't describe a richer health body.
func MountDefaultHealth(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// WriteJSON writes a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes the standard {error, detail} wire shape, deriving
// the HTTP status from the error's domain.Kind.
func WriteError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case domain.KindInvalidInput:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindPolicyDenied:
		status = http.StatusForbidden
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	case domain.KindChainBroken, domain.KindCryptoFault:
		status = http.StatusUnprocessableEntity
	case domain.KindRateLimited:
		status = http.StatusTooManyRequests
	}
	WriteJSON(w, status, map[string]any{
		"error":  string(kind),
		"detail": err.Error(),
	})
}

// DialClient returns an http.Client that dials sockPath for every
// request regardless of the host in the URL, so callers can write
// plain "http://daemon/path" requests against a Unix socket.
func DialClient(sockPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		},
		Timeout: 30 * time.Second,
	}
}

// DecodeJSON decodes a request body into v, capping it at 1MiB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
