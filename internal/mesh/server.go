package mesh

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/idgen"
	"github.com/tutu-network/agentcore/internal/receipt"
	"github.com/tutu-network/agentcore/internal/rpcsock"
)

// Daemon is the mesh control-plane: an identity, a peer book, a set of
// in-memory rooms, and the live sessions currently established with
// other instances.
type Daemon struct {
	identity *Identity
	peers    *PeerStore
	rooms    *RoomRegistry
	invites  *InviteTracker
	receipts *receipt.Client
	limiter  *AcceptLimiter

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(identity *Identity, peers *PeerStore, receipts *receipt.Client) *Daemon {
	return &Daemon{
		identity: identity,
		peers:    peers,
		rooms:    NewRoomRegistry(),
		invites:  NewInviteTracker(),
		receipts: receipts,
		limiter:  NewAcceptLimiter(),
		sessions: make(map[string]*Session),
	}
}

func (d *Daemon) Mount(r chi.Router) {
	r.Get("/health", d.handleHealth)
	r.Get("/identity", d.handleIdentity)
	r.Post("/identity/rotate", d.handleRotateIdentity)
	r.Post("/invite/create", d.handleInviteCreate)
	r.Post("/invite/accept", d.handleInviteAccept)
	r.Get("/peers", d.handlePeers)
	r.Post("/peer/{id}/send", d.handlePeerSend)
	r.Delete("/peer/{id}", d.handlePeerRemove)
	r.Post("/room/create", d.handleRoomCreate)
	r.Post("/room/join", d.handleRoomJoin)
	r.Post("/room/send", d.handleRoomSend)
	r.Get("/room/history", d.handleRoomHistory)
	r.Get("/rooms", d.handleRoomList)
	mountMetrics(r)
}

// ListenTCP runs the raw mesh transport listener: inbound connections
// are rate-limited per source address, then run through the hybrid
// handshake before being admitted as a session.
func (d *Daemon) ListenTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Printf("[mesh] accept error: %v", err)
				continue
			}
		}
		if !d.limiter.Allow(conn.RemoteAddr()) {
			log.Printf("[mesh] rejecting %s: %v", conn.RemoteAddr(), domain.ErrAcceptRateLimited)
			conn.Close()
			continue
		}
		go d.handleInbound(ctx, conn)
	}
}

func (d *Daemon) handleInbound(ctx context.Context, conn net.Conn) {
	sess, err := HandshakeInbound(conn, d.identity)
	if err != nil {
		log.Printf("[mesh] handshake failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	sessionsEstablished.Inc()

	// Unlike DialPeer, an inbound dial arrives with no prior
	// domain.PeerRecord to key off of: the remote instance ID is
	// derived from the static key the handshake just authenticated,
	// then registered the same way the outbound side registers after
	// DialPeer succeeds.
	instanceID := sess.RemoteInstanceID()
	d.mu.Lock()
	d.sessions[instanceID] = sess
	d.mu.Unlock()

	if _, err := d.peers.MarkConnected(instanceID, sess.RemoteStaticKey(), conn.RemoteAddr().String()); err != nil {
		log.Printf("[mesh] mark peer %s connected: %v", instanceID, err)
	}

	d.serveSession(ctx, sess)
}

// DialPeer is the ConnectFunc used by Dialer to redial stale peers.
func (d *Daemon) DialPeer(ctx context.Context, peer domain.PeerRecord) (*Session, error) {
	dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dctx, "tcp", peer.Endpoint)
	if err != nil {
		return nil, err
	}
	sess, err := HandshakeOutbound(conn, d.identity)
	if err != nil {
		conn.Close()
		return nil, err
	}

	sessionsEstablished.Inc()
	d.mu.Lock()
	d.sessions[peer.InstanceID] = sess
	d.mu.Unlock()
	go d.serveSession(ctx, sess)
	return sess, nil
}

func (d *Daemon) serveSession(ctx context.Context, sess *Session) {
	defer sess.Close()
	for {
		raw, err := sess.Recv()
		if err != nil {
			log.Printf("[mesh] session closed: %v", err)
			return
		}
		var msg domain.MeshMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		d.dispatch(ctx, msg)
	}
}

func (d *Daemon) dispatch(ctx context.Context, msg domain.MeshMessage) {
	switch msg.Kind {
	case domain.MsgHeartbeat:
		// heartbeats change nothing here; last_seen is refreshed by
		// PeerStore.MarkConnected / SetState when a session is established
	case domain.MsgChat:
		connected := d.connectedSet()
		if _, err := d.rooms.Append(msg.RoomID, msg, connected); err != nil {
			log.Printf("[mesh] chat to unknown room %s", msg.RoomID)
		}
	default:
		d.receipts.Post(ctx, "mesh.message", string(msg.Kind))
	}
}

func (d *Daemon) connectedSet() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]bool, len(d.sessions))
	for id := range d.sessions {
		out[id] = true
	}
	return out
}

func (d *Daemon) sendTo(instanceID string, msg domain.MeshMessage) error {
	d.mu.Lock()
	sess, ok := d.sessions[instanceID]
	d.mu.Unlock()
	if !ok {
		return domain.ErrNotConnected
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return sess.Send(raw)
}

// --- HTTP handlers ---

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	sessions := len(d.sessions)
	d.mu.Unlock()
	rpcsock.WriteJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"instance_id":     d.identity.InstanceID,
		"connected_peers": sessions,
		"known_peers":     len(d.peers.List()),
		"rooms":           len(d.rooms.List()),
	})
}

func (d *Daemon) handleIdentity(w http.ResponseWriter, r *http.Request) {
	desc, err := d.identity.SignedDescriptor()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, desc)
}

func (d *Daemon) handleRotateIdentity(w http.ResponseWriter, r *http.Request) {
	d.identity.Zeroize()
	rpcsock.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "rotation requires daemon restart"})
}

func (d *Daemon) handleInviteCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TTLSecs int64 `json:"ttl_secs"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	if req.TTLSecs <= 0 {
		req.TTLSecs = 600
	}
	code, err := CreateInvite(d.identity, time.Duration(req.TTLSecs)*time.Second)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusCreated, map[string]string{"invite": code})
}

func (d *Daemon) handleInviteAccept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Invite string `json:"invite"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}

	payload, err := DecodeInvite(req.Invite)
	if err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	if err := d.invites.Accept(payload); err != nil {
		rpcsock.WriteError(w, err)
		return
	}

	// ToDomain verifies the embedded descriptor's Ed25519 signature
	// before returning; a forged or tampered invite never reaches Upsert.
	inv, err := payload.ToDomain()
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}

	desc := payload.Descriptor
	desc.InstanceID = DeriveInstanceID(inv.X25519Pub)
	rec, err := d.peers.Upsert(desc, domain.PeerDisconnected)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	invitesAccepted.Inc()
	rpcsock.WriteJSON(w, http.StatusCreated, rec)
}

func (d *Daemon) handlePeers(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, d.peers.List())
}

func (d *Daemon) handlePeerSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Text string `json:"text"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	msg := domain.MeshMessage{Kind: domain.MsgChat, Text: req.Text, SentAt: time.Now().UTC()}
	if err := d.sendTo(id, msg); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (d *Daemon) handlePeerRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := d.peers.Remove(id); err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	d.mu.Lock()
	if sess, ok := d.sessions[id]; ok {
		sess.Close()
		delete(d.sessions, id)
	}
	d.mu.Unlock()
	rpcsock.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (d *Daemon) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	room := d.rooms.Create(idgen.New(), req.Name)
	rpcsock.WriteJSON(w, http.StatusCreated, room)
}

func (d *Daemon) handleRoomJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID     string `json:"room_id"`
		InstanceID string `json:"instance_id"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	room, err := d.rooms.Join(req.RoomID, req.InstanceID, d.connectedSet())
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, room)
}

func (d *Daemon) handleRoomSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"room_id"`
		Text   string `json:"text"`
	}
	if err := rpcsock.DecodeJSON(w, r, &req); err != nil {
		rpcsock.WriteError(w, domain.ErrInvalidQuery)
		return
	}
	msg := domain.MeshMessage{Kind: domain.MsgChat, Text: req.Text}
	targets, err := d.rooms.Append(req.RoomID, msg, d.connectedSet())
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	for _, t := range targets {
		_ = d.sendTo(t, msg)
	}
	rpcsock.WriteJSON(w, http.StatusAccepted, map[string]int{"delivered": len(targets)})
}

func (d *Daemon) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	room, err := d.rooms.Get(roomID)
	if err != nil {
		rpcsock.WriteError(w, err)
		return
	}
	rpcsock.WriteJSON(w, http.StatusOK, room.History)
}

func (d *Daemon) handleRoomList(w http.ResponseWriter, r *http.Request) {
	rpcsock.WriteJSON(w, http.StatusOK, d.rooms.List())
}
