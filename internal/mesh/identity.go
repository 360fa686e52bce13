// Package mesh implements the P2P encrypted mesh: hybrid classical +
// post-quantum authenticated channels, invite-based pairing, rooms,
// and replay-safe framing between instances.
package mesh

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/flynn/noise"

	"github.com/tutu-network/agentcore/internal/domain"
)

// Identity holds every keypair a mesh instance needs, persisted at
// mode 0600 and zeroized on drop, exactly as spec.md §4.4 requires.
type Identity struct {
	Ed25519Pub  ed25519.PublicKey
	Ed25519Priv ed25519.PrivateKey
	X25519      noise.DHKey
	MLKEMPub    kem.PublicKey
	MLKEMPriv   kem.PrivateKey
	mlkemPubRaw []byte
	mlkemPrivRaw []byte

	InstanceID string
	Endpoint   string
}

type identityFile struct {
	Ed25519Pub  string `json:"ed25519_pub"`
	Ed25519Priv string `json:"ed25519_priv"`
	X25519Pub   string `json:"x25519_pub"`
	X25519Priv  string `json:"x25519_priv"`
	MLKEMPub    string `json:"mlkem_pub"`
	MLKEMPriv   string `json:"mlkem_priv"`
	Endpoint    string `json:"endpoint"`
}

// LoadOrCreate loads a persisted identity from stateDir, or generates
// and persists a fresh one on first run.
func LoadOrCreate(stateDir, endpoint string) (*Identity, error) {
	path := filepath.Join(stateDir, "identity.json")
	if data, err := os.ReadFile(path); err == nil {
		return decodeIdentity(data)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, err
	}

	id, err := generate(endpoint)
	if err != nil {
		return nil, err
	}
	if err := persist(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func generate(endpoint string) (*Identity, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}

	xKey, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 keypair: %w", err)
	}

	scheme := mlkem768.Scheme()
	mlPub, mlPriv, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate mlkem768 keypair: %w", err)
	}
	mlPubRaw, err := mlPub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	mlPrivRaw, err := mlPriv.MarshalBinary()
	if err != nil {
		return nil, err
	}

	id := &Identity{
		Ed25519Pub: edPub, Ed25519Priv: edPriv,
		X25519:       xKey,
		MLKEMPub:     mlPub,
		MLKEMPriv:    mlPriv,
		mlkemPubRaw:  mlPubRaw,
		mlkemPrivRaw: mlPrivRaw,
		Endpoint:     endpoint,
	}
	id.InstanceID = DeriveInstanceID(xKey.Public)
	return id, nil
}

// DeriveInstanceID computes hex(SHA-256(x25519_static_pub))[:32] per
// spec.md §3.
func DeriveInstanceID(x25519Pub []byte) string {
	sum := sha256.Sum256(x25519Pub)
	return hex.EncodeToString(sum[:])[:32]
}

func persist(path string, id *Identity) error {
	f := identityFile{
		Ed25519Pub:  hex.EncodeToString(id.Ed25519Pub),
		Ed25519Priv: hex.EncodeToString(id.Ed25519Priv),
		X25519Pub:   hex.EncodeToString(id.X25519.Public),
		X25519Priv:  hex.EncodeToString(id.X25519.Private),
		MLKEMPub:    hex.EncodeToString(id.mlkemPubRaw),
		MLKEMPriv:   hex.EncodeToString(id.mlkemPrivRaw),
		Endpoint:    id.Endpoint,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func decodeIdentity(data []byte) (*Identity, error) {
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	edPub, err := hex.DecodeString(f.Ed25519Pub)
	if err != nil {
		return nil, err
	}
	edPriv, err := hex.DecodeString(f.Ed25519Priv)
	if err != nil {
		return nil, err
	}
	xPub, err := hex.DecodeString(f.X25519Pub)
	if err != nil {
		return nil, err
	}
	xPriv, err := hex.DecodeString(f.X25519Priv)
	if err != nil {
		return nil, err
	}
	mlPubRaw, err := hex.DecodeString(f.MLKEMPub)
	if err != nil {
		return nil, err
	}
	mlPrivRaw, err := hex.DecodeString(f.MLKEMPriv)
	if err != nil {
		return nil, err
	}

	scheme := mlkem768.Scheme()
	mlPub, err := scheme.UnmarshalBinaryPublicKey(mlPubRaw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal mlkem pub: %w", err)
	}
	mlPriv, err := scheme.UnmarshalBinaryPrivateKey(mlPrivRaw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal mlkem priv: %w", err)
	}

	id := &Identity{
		Ed25519Pub:  ed25519.PublicKey(edPub),
		Ed25519Priv: ed25519.PrivateKey(edPriv),
		X25519:      noise.DHKey{Public: xPub, Private: xPriv},
		MLKEMPub:    mlPub,
		MLKEMPriv:   mlPriv,
		mlkemPubRaw: mlPubRaw,
		mlkemPrivRaw: mlPrivRaw,
		Endpoint:    f.Endpoint,
	}
	id.InstanceID = DeriveInstanceID(xPub)
	return id, nil
}

// Zeroize overwrites the Ed25519 and X25519 private keys and the raw
// ML-KEM private key bytes held in memory. The parsed MLKEMPriv value
// is not cleared.
func (id *Identity) Zeroize() {
	for i := range id.Ed25519Priv {
		id.Ed25519Priv[i] = 0
	}
	for i := range id.X25519.Private {
		id.X25519.Private[i] = 0
	}
	for i := range id.mlkemPrivRaw {
		id.mlkemPrivRaw[i] = 0
	}
}

// Descriptor is the canonical public identity advertised to peers,
// Ed25519-signed over its own JSON serialization so tampered
// descriptors are rejected on load.
type Descriptor struct {
	InstanceID string `json:"instance_id"`
	Endpoint   string `json:"endpoint"`
	Ed25519Pub string `json:"ed25519_pub"`
	X25519Pub  string `json:"x25519_pub"`
	MLKEMPub   string `json:"mlkem_pub"`
	IssuedAt   int64  `json:"issued_at"`
	Signature  string `json:"signature,omitempty"`
}

// SignedDescriptor returns this identity's descriptor with an
// Ed25519 signature over its canonical (signature-field-empty) form.
func (id *Identity) SignedDescriptor() (Descriptor, error) {
	d := Descriptor{
		InstanceID: id.InstanceID,
		Endpoint:   id.Endpoint,
		Ed25519Pub: hex.EncodeToString(id.Ed25519Pub),
		X25519Pub:  hex.EncodeToString(id.X25519.Public),
		MLKEMPub:   hex.EncodeToString(id.mlkemPubRaw),
		IssuedAt:   time.Now().UTC().Unix(),
	}
	canon, err := canonicalBytes(d)
	if err != nil {
		return Descriptor{}, err
	}
	d.Signature = hex.EncodeToString(ed25519.Sign(id.Ed25519Priv, canon))
	return d, nil
}

// VerifyDescriptor checks a peer-supplied descriptor's signature
// against its own embedded public key.
func VerifyDescriptor(d Descriptor) error {
	sig, err := hex.DecodeString(d.Signature)
	if err != nil {
		return domain.ErrBadSignature
	}
	pub, err := hex.DecodeString(d.Ed25519Pub)
	if err != nil {
		return domain.ErrBadSignature
	}
	unsigned := d
	unsigned.Signature = ""
	canon, err := canonicalBytes(unsigned)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), canon, sig) {
		return domain.ErrBadSignature
	}
	return nil
}

func canonicalBytes(d Descriptor) ([]byte, error) {
	return json.Marshal(d)
}
