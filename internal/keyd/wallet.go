package keyd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"

	"github.com/tutu-network/agentcore/internal/domain"
)

// generatedKey holds raw private key bytes and the derived address,
// before they are encrypted for storage.
type generatedKey struct {
	privateKey []byte
	address    string
}

// generateWallet creates a fresh keypair for the given chain.
func generateWallet(chain domain.Chain) (generatedKey, error) {
	switch chain {
	case domain.ChainETH:
		return generateETHWallet()
	case domain.ChainSOL:
		return generateSOLWallet()
	default:
		return generatedKey{}, domain.ErrUnsupportedChain
	}
}

func generateETHWallet() (generatedKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return generatedKey{}, err
	}
	return generatedKey{
		privateKey: priv.Serialize(),
		address:    ethAddressFromPrivate(priv),
	}, nil
}

func ethAddressFromPrivate(priv *secp256k1.PrivateKey) string {
	pub := priv.PubKey().SerializeUncompressed() // 0x04 || X(32) || Y(32)
	hash := keccak256(pub[1:])                   // drop the 0x04 prefix
	return "0x" + hex.EncodeToString(hash[12:])  // last 20 bytes
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func generateSOLWallet() (generatedKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return generatedKey{}, err
	}
	// Persist only the 32-byte seed; the public key is re-derivable.
	seed := priv.Seed()
	return generatedKey{
		privateKey: seed,
		address:    base58.Encode(pub),
	}, nil
}

// signPayload signs raw bytes with a decrypted wallet key, returning
// a hex-encoded signature. ETH payloads are expected to already be a
// 32-byte digest (the caller hashes); SOL signs the payload directly.
func signPayload(chain domain.Chain, privateKey, payload []byte) (string, error) {
	switch chain {
	case domain.ChainETH:
		if len(payload) != 32 {
			return "", fmt.Errorf("keyd: eth signing payload must be a 32-byte digest, got %d bytes", len(payload))
		}
		priv := secp256k1.PrivKeyFromBytes(privateKey)
		sig := signCompactRecoverable(priv, payload)
		return hex.EncodeToString(sig), nil
	case domain.ChainSOL:
		priv := ed25519.NewKeyFromSeed(privateKey)
		sig := ed25519.Sign(priv, payload)
		return hex.EncodeToString(sig), nil
	default:
		return "", domain.ErrUnsupportedChain
	}
}

// signCompactRecoverable wraps the secp256k1 ECDSA signature into the
// 65-byte r||s||v form Ethereum tooling expects.
func signCompactRecoverable(priv *secp256k1.PrivateKey, digest []byte) []byte {
	sig := ecdsa.SignCompact(priv, digest, false)
	// ecdsa.SignCompact returns recovery-id-prefixed (1 + 64) bytes;
	// reorder to r || s || v for downstream ETH tooling.
	out := make([]byte, 65)
	copy(out[:64], sig[1:])
	out[64] = sig[0]
	return out
}

func deriveETHAddress(privateKey []byte) string {
	priv := secp256k1.PrivKeyFromBytes(privateKey)
	return ethAddressFromPrivate(priv)
}

func deriveSOLAddress(privateKey []byte) string {
	priv := ed25519.NewKeyFromSeed(privateKey)
	pub := priv.Public().(ed25519.PublicKey)
	return base58.Encode(pub)
}
