package keyd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tutu-network/agentcore/internal/domain"
	"github.com/tutu-network/agentcore/internal/idgen"
)

type walletIndex struct {
	Wallets map[string]*domain.Wallet `json:"wallets"`
}

type counterState struct {
	Counters map[string]domain.DayCounter `json:"counters"` // key: walletID
}

// Store owns the wallet index, encrypted key blobs, daily counters,
// and policy rules under keyd's state directory.
type Store struct {
	mu       sync.Mutex
	dir      string
	master   *MasterKey
	index    walletIndex
	counters counterState
	policy   []domain.PolicyRule

	// decrypted keeps plaintext keys in memory only while a wallet is
	// in active use; cleared on zeroize/delete/shutdown.
	decrypted map[string][]byte
}

func Open(stateDir string, master *MasterKey) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(stateDir, "keys"), 0700); err != nil {
		return nil, err
	}

	s := &Store{
		dir:       stateDir,
		master:    master,
		index:     walletIndex{Wallets: make(map[string]*domain.Wallet)},
		counters:  counterState{Counters: make(map[string]domain.DayCounter)},
		decrypted: make(map[string][]byte),
	}

	if data, err := os.ReadFile(s.indexPath()); err == nil {
		_ = json.Unmarshal(data, &s.index)
	}
	if s.index.Wallets == nil {
		s.index.Wallets = make(map[string]*domain.Wallet)
	}

	if data, err := os.ReadFile(s.countersPath()); err == nil {
		_ = json.Unmarshal(data, &s.counters)
	}
	if s.counters.Counters == nil {
		s.counters.Counters = make(map[string]domain.DayCounter)
	}

	if data, err := os.ReadFile(s.policyPath()); err == nil {
		_ = json.Unmarshal(data, &s.policy)
	}

	return s, nil
}

func (s *Store) indexPath() string    { return filepath.Join(s.dir, "wallets.json") }
func (s *Store) countersPath() string { return filepath.Join(s.dir, "counters.json") }
func (s *Store) policyPath() string   { return filepath.Join(s.dir, "policy.json") }
func (s *Store) blobPath(id string) string {
	return filepath.Join(s.dir, "keys", id+".blob")
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) saveIndexLocked() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.indexPath(), data)
}

func (s *Store) saveCountersLocked() error {
	data, err := json.MarshalIndent(s.counters, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.countersPath(), data)
}

// Policy returns the current ordered rule list.
func (s *Store) Policy() []domain.PolicyRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PolicyRule(nil), s.policy...)
}

func (s *Store) SetPolicy(rules []domain.PolicyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policy = rules
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.policyPath(), data)
}

// CreateWallet generates a fresh key, encrypts it, and persists both
// the index entry and the ciphertext blob.
func (s *Store) CreateWallet(chain domain.Chain, label string) (*domain.Wallet, error) {
	gen, err := generateWallet(chain)
	if err != nil {
		return nil, err
	}

	blob, err := s.master.Encrypt(gen.privateKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := &domain.Wallet{
		ID:           idgen.New(),
		Chain:        chain,
		Address:      gen.address,
		Label:        label,
		EncryptedKey: blob,
		CreatedAt:    time.Now().UTC(),
	}
	s.index.Wallets[w.ID] = w
	s.decrypted[w.ID] = gen.privateKey

	if err := os.WriteFile(s.blobPath(w.ID), blob, 0600); err != nil {
		delete(s.index.Wallets, w.ID)
		return nil, err
	}
	if err := s.saveIndexLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) List() []domain.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Wallet, 0, len(s.index.Wallets))
	for _, w := range s.index.Wallets {
		out = append(out, *w)
	}
	return out
}

func (s *Store) Get(id string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.index.Wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

// decryptedKey returns (and caches) a wallet's plaintext private key.
func (s *Store) decryptedKey(id string) ([]byte, error) {
	if key, ok := s.decrypted[id]; ok {
		return key, nil
	}
	w, ok := s.index.Wallets[id]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	key, err := s.master.Decrypt(w.EncryptedKey)
	if err != nil {
		return nil, err
	}
	s.decrypted[id] = key
	return key, nil
}

// Sign decrypts the wallet key, signs payload, and returns a hex
// signature. It does not enforce policy; callers check Evaluate first.
func (s *Store) Sign(id string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.index.Wallets[id]
	if !ok {
		return "", domain.ErrWalletNotFound
	}
	key, err := s.decryptedKey(id)
	if err != nil {
		return "", err
	}
	return signPayload(w.Chain, key, payload)
}

// Delete removes a wallet's blob and index entry, zeroizing any
// cached plaintext key.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index.Wallets[id]; !ok {
		return domain.ErrWalletNotFound
	}
	if key, ok := s.decrypted[id]; ok {
		zero(key)
		delete(s.decrypted, id)
	}
	delete(s.index.Wallets, id)
	delete(s.counters.Counters, id)

	_ = os.Remove(s.blobPath(id))
	if err := s.saveIndexLocked(); err != nil {
		return err
	}
	return s.saveCountersLocked()
}

// ZeroizeAll clears every cached plaintext key, used on shutdown.
func (s *Store) ZeroizeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, key := range s.decrypted {
		zero(key)
		delete(s.decrypted, id)
	}
	s.master.Zeroize()
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DayCounterFor returns today's counter for a wallet, creating a
// zeroed one (rolling over from any stale prior day) if absent.
func (s *Store) DayCounterFor(id string) domain.DayCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dayCounterLocked(id)
}

func (s *Store) dayCounterLocked(id string) domain.DayCounter {
	today := CurrentDay()
	c, ok := s.counters.Counters[id]
	if !ok || c.Date != today {
		c = domain.DayCounter{Date: today, SpentFixed: "0"}
	}
	return c
}

// RecordSpend adds amountUSD to the wallet's running daily counter,
// rolling over on UTC date change, and persists the update.
func (s *Store) RecordSpend(id string, amountUSD string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.dayCounterLocked(id)
	sum, err := addFixed(c.SpentFixed, amountUSD)
	if err != nil {
		return err
	}
	c.SpentFixed = sum
	c.SignCount++
	s.counters.Counters[id] = c
	return s.saveCountersLocked()
}
