package mesh

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
)

// PeerStore persists known peers to a JSON file, following the same
// atomic-write pattern as watch and routines' state stores.
type PeerStore struct {
	mu   sync.Mutex
	path string
	st   map[string]*domain.PeerRecord
}

func OpenPeerStore(stateFile string) (*PeerStore, error) {
	if err := os.MkdirAll(filepath.Dir(stateFile), 0700); err != nil {
		return nil, err
	}
	s := &PeerStore{path: stateFile, st: make(map[string]*domain.PeerRecord)}
	if data, err := os.ReadFile(stateFile); err == nil {
		_ = json.Unmarshal(data, &s.st)
	}
	if s.st == nil {
		s.st = make(map[string]*domain.PeerRecord)
	}
	return s, nil
}

func (s *PeerStore) saveLocked() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Upsert records or refreshes a peer's descriptor and last-seen time.
func (s *PeerStore) Upsert(d Descriptor, state domain.ConnectionState) (*domain.PeerRecord, error) {
	edPub, err := hex.DecodeString(d.Ed25519Pub)
	if err != nil {
		return nil, domain.ErrBadSignature
	}
	xPub, err := hex.DecodeString(d.X25519Pub)
	if err != nil {
		return nil, domain.ErrBadSignature
	}
	mlPub, err := hex.DecodeString(d.MLKEMPub)
	if err != nil {
		return nil, domain.ErrBadSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st[d.InstanceID]
	if !ok {
		rec = &domain.PeerRecord{InstanceID: d.InstanceID}
		s.st[d.InstanceID] = rec
	}
	rec.Endpoint = d.Endpoint
	rec.Ed25519Pub = edPub
	rec.X25519Pub = xPub
	rec.MLKEMPub = mlPub
	rec.State = state
	rec.LastSeen = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkConnected records a peer as Connected using only the identity
// material a completed inbound handshake can supply (the remote
// static X25519 key and its TCP remote address). If the peer is
// already known from a prior invite exchange, its existing
// descriptor fields are left untouched and only state/last-seen are
// refreshed; otherwise a minimal record is created so the peer shows
// up in subsequent GET /peers and /peer/{id}/send calls.
func (s *PeerStore) MarkConnected(instanceID string, x25519Pub []byte, endpoint string) (*domain.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st[instanceID]
	if !ok {
		rec = &domain.PeerRecord{
			InstanceID: instanceID,
			Endpoint:   endpoint,
			X25519Pub:  append([]byte(nil), x25519Pub...),
		}
		s.st[instanceID] = rec
	}
	rec.State = domain.PeerConnected
	rec.LastSeen = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	cp := *rec
	return &cp, nil
}

func (s *PeerStore) SetState(instanceID string, state domain.ConnectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st[instanceID]
	if !ok {
		return domain.ErrPeerNotFound
	}
	rec.State = state
	if state == domain.PeerConnected {
		rec.LastSeen = time.Now().UTC()
	}
	return s.saveLocked()
}

func (s *PeerStore) Get(instanceID string) (*domain.PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.st[instanceID]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *PeerStore) List() []domain.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PeerRecord, 0, len(s.st))
	for _, rec := range s.st {
		out = append(out, *rec)
	}
	return out
}

func (s *PeerStore) Remove(instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st[instanceID]; !ok {
		return domain.ErrPeerNotFound
	}
	delete(s.st, instanceID)
	return s.saveLocked()
}

// Stale returns peers whose last-seen time is older than maxAge and
// who are not currently marked Connected, for the dialer's dead-peer
// redial sweep.
func (s *PeerStore) Stale(maxAge time.Duration) []domain.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	var out []domain.PeerRecord
	for _, rec := range s.st {
		if rec.State != domain.PeerConnected && rec.LastSeen.Before(cutoff) {
			out = append(out, *rec)
		}
	}
	return out
}
