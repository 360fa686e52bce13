package mesh

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

// InvitePayload is the base64url-encoded blob exchanged out-of-band
// (QR code, paste, etc.) to let a new peer bootstrap a connection. It
// carries the inviter's signed Descriptor so the accepting side can
// verify it came from the claimed key, not just trust the bytes.
type InvitePayload struct {
	Descriptor Descriptor `json:"descriptor"`
	IssuedAt   int64      `json:"issued_at"`
	TTLSecs    int64      `json:"ttl_secs"`
	Nonce      string     `json:"nonce"`
}

// CreateInvite mints a single-use invite bound to this identity,
// valid for ttl.
func CreateInvite(self *Identity, ttl time.Duration) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	desc, err := self.SignedDescriptor()
	if err != nil {
		return "", err
	}

	p := InvitePayload{
		Descriptor: desc,
		IssuedAt:   time.Now().UTC().Unix(),
		TTLSecs:    int64(ttl.Seconds()),
		Nonce:      hex.EncodeToString(nonce),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeInvite parses a base64url invite string back into its payload.
func DecodeInvite(s string) (InvitePayload, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return InvitePayload{}, fmt.Errorf("decode invite: %w", err)
	}
	var p InvitePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return InvitePayload{}, fmt.Errorf("parse invite: %w", err)
	}
	return p, nil
}

// Expired reports whether the invite has outlived its TTL.
func (p InvitePayload) Expired() bool {
	issued := time.Unix(p.IssuedAt, 0)
	return time.Now().UTC().After(issued.Add(time.Duration(p.TTLSecs) * time.Second))
}

// ToDomain verifies the embedded descriptor's signature, then decodes
// its hex-encoded key material into the shared domain.Invite
// representation used by the rest of the daemon. A forged or
// tampered descriptor is rejected here, before any peer state is
// ever written.
func (p InvitePayload) ToDomain() (domain.Invite, error) {
	if err := VerifyDescriptor(p.Descriptor); err != nil {
		return domain.Invite{}, err
	}

	xPub, err := hex.DecodeString(p.Descriptor.X25519Pub)
	if err != nil {
		return domain.Invite{}, domain.ErrBadSignature
	}
	edPub, err := hex.DecodeString(p.Descriptor.Ed25519Pub)
	if err != nil {
		return domain.Invite{}, domain.ErrBadSignature
	}
	mlPub, err := hex.DecodeString(p.Descriptor.MLKEMPub)
	if err != nil {
		return domain.Invite{}, domain.ErrBadSignature
	}
	return domain.Invite{
		Endpoint:   p.Descriptor.Endpoint,
		X25519Pub:  xPub,
		Ed25519Pub: edPub,
		MLKEMPub:   mlPub,
		TTLUnixMS:  (p.IssuedAt + p.TTLSecs) * 1000,
		Nonce:      p.Nonce,
	}, nil
}

// InviteTracker rejects replayed nonces, keeping a bounded window of
// seen invite nonces in memory. Acceptance is single-use: once an
// invite's nonce has been consumed, reusing it fails closed.
type InviteTracker struct {
	mu   sync.Mutex
	seen map[string]time.Time // nonce -> invite expiry
}

func NewInviteTracker() *InviteTracker {
	return &InviteTracker{seen: make(map[string]time.Time)}
}

// Accept validates and consumes an invite nonce. It fails with
// ErrInviteExpired past TTL and ErrInviteReplayed on reuse.
func (t *InviteTracker) Accept(p InvitePayload) error {
	if p.Expired() {
		return domain.ErrInviteExpired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune()
	if _, ok := t.seen[p.Nonce]; ok {
		return domain.ErrInviteReplayed
	}
	t.seen[p.Nonce] = time.Unix(p.IssuedAt+p.TTLSecs, 0)
	return nil
}

// prune drops nonce records whose invite TTL has expired (Accept
// rejects those before consulting seen); caller holds the lock.
func (t *InviteTracker) prune() {
	now := time.Now().UTC()
	for nonce, expires := range t.seen {
		if expires.Before(now) {
			delete(t.seen, nonce)
		}
	}
}
