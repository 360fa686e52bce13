package mesh

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/flynn/noise"
	"golang.org/x/crypto/hkdf"

	"github.com/tutu-network/agentcore/internal/domain"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Session is an established mesh channel: a classical Noise_XX
// transport pair hardened by a post-quantum KEM exchange, per
// spec.md §4.4's hybrid key derivation.
type Session struct {
	conn      net.Conn
	sendKey   [32]byte
	recvKey   [32]byte
	sendNonce uint64
	recvNonce uint64

	// remoteStatic is the peer's long-term X25519 public key, bound by
	// the Noise_XX mutual-auth pattern. It is the only identity
	// material available from the handshake itself, so it is what
	// handleInbound derives the remote instance ID from.
	remoteStatic []byte
}

// RemoteInstanceID derives the connected peer's instance ID from the
// static key the handshake authenticated, the same derivation used
// for invite descriptors (DeriveInstanceID).
func (s *Session) RemoteInstanceID() string {
	return DeriveInstanceID(s.remoteStatic)
}

// RemoteStaticKey returns the peer's authenticated X25519 public key.
func (s *Session) RemoteStaticKey() []byte {
	return s.remoteStatic
}

// HandshakeOutbound runs the initiator side: Noise_XX mutual auth,
// then an in-channel ML-KEM-768 encapsulation exchange, then HKDF
// over the handshake hash and both shared secrets.
func HandshakeOutbound(conn net.Conn, self *Identity) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     true,
		StaticKeypair: self.X25519,
	})
	if err != nil {
		return nil, fmt.Errorf("init handshake: %w", err)
	}

	// -> e
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrameRaw(conn, msg1); err != nil {
		return nil, err
	}

	// <- e, ee, s, es
	msg2, err := readFrameRaw(conn)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
		return nil, domain.ErrHandshakeFailed
	}

	// -> s, se
	msg3, csSend, csRecv, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrameRaw(conn, msg3); err != nil {
		return nil, err
	}

	h := hs.ChannelBinding()
	sess, err := finishHybrid(conn, csSend, csRecv, h, true)
	if err != nil {
		return nil, err
	}
	sess.remoteStatic = hs.PeerStatic()
	return sess, nil
}

// HandshakeInbound runs the responder side of the same handshake.
func HandshakeInbound(conn net.Conn, self *Identity) (*Session, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     false,
		StaticKeypair: self.X25519,
	})
	if err != nil {
		return nil, fmt.Errorf("init handshake: %w", err)
	}

	msg1, err := readFrameRaw(conn)
	if err != nil {
		return nil, err
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, domain.ErrHandshakeFailed
	}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, err
	}
	if err := writeFrameRaw(conn, msg2); err != nil {
		return nil, err
	}

	msg3, err := readFrameRaw(conn)
	if err != nil {
		return nil, err
	}
	_, csRecv, csSend, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, domain.ErrHandshakeFailed
	}

	h := hs.ChannelBinding()
	sess, err := finishHybrid(conn, csSend, csRecv, h, false)
	if err != nil {
		return nil, err
	}
	sess.remoteStatic = hs.PeerStatic()
	return sess, nil
}

// finishHybrid performs the in-channel ML-KEM-768 exchange over the
// just-established classical transport, then derives final session
// keys via HKDF-SHA256(ikm = h || s1 || s2, info = "mesh-v1").
func finishHybrid(conn net.Conn, csSend, csRecv *noise.CipherState, h []byte, initiator bool) (*Session, error) {
	scheme := mlkem768.Scheme()

	if initiator {
		pk, sk, err := scheme.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		pkRaw, _ := pk.MarshalBinary()
		if err := sendEncrypted(conn, csSend, pkRaw); err != nil {
			return nil, err
		}

		ctFromPeer, err := recvEncrypted(conn, csRecv)
		if err != nil {
			return nil, err
		}
		s1, err := scheme.Decapsulate(sk, ctFromPeer)
		if err != nil {
			return nil, domain.ErrHandshakeFailed
		}

		peerPKRaw, err := recvEncrypted(conn, csRecv)
		if err != nil {
			return nil, err
		}
		peerPK, err := scheme.UnmarshalBinaryPublicKey(peerPKRaw)
		if err != nil {
			return nil, domain.ErrHandshakeFailed
		}
		ct2, s2, err := scheme.Encapsulate(peerPK)
		if err != nil {
			return nil, err
		}
		if err := sendEncrypted(conn, csSend, ct2); err != nil {
			return nil, err
		}

		return deriveSession(conn, h, s1, s2, true)
	}

	peerPKRaw, err := recvEncrypted(conn, csRecv)
	if err != nil {
		return nil, err
	}
	peerPK, err := scheme.UnmarshalBinaryPublicKey(peerPKRaw)
	if err != nil {
		return nil, domain.ErrHandshakeFailed
	}
	ct1, s1, err := scheme.Encapsulate(peerPK)
	if err != nil {
		return nil, err
	}
	if err := sendEncrypted(conn, csSend, ct1); err != nil {
		return nil, err
	}

	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	pkRaw, _ := pk.MarshalBinary()
	if err := sendEncrypted(conn, csSend, pkRaw); err != nil {
		return nil, err
	}

	ct2, err := recvEncrypted(conn, csRecv)
	if err != nil {
		return nil, err
	}
	s2, err := scheme.Decapsulate(sk, ct2)
	if err != nil {
		return nil, domain.ErrHandshakeFailed
	}

	return deriveSession(conn, h, s1, s2, false)
}

func deriveSession(conn net.Conn, h, s1, s2 []byte, initiator bool) (*Session, error) {
	ikm := append(append(append([]byte{}, h...), s1...), s2...)
	r := hkdf.New(sha256.New, ikm, nil, []byte("mesh-v1"))

	var a, b [32]byte
	if _, err := io.ReadFull(r, a[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}

	sess := &Session{conn: conn}
	// Per-direction keys: initiator sends with a, receives with b; responder is mirrored.
	if initiator {
		sess.sendKey, sess.recvKey = a, b
	} else {
		sess.sendKey, sess.recvKey = b, a
	}
	return sess, nil
}

// sendEncrypted/recvEncrypted move the PQ exchange payloads over the
// still-handshaking Noise cipher states, ahead of transport mode.
func sendEncrypted(conn net.Conn, cs *noise.CipherState, payload []byte) error {
	ct := cs.Encrypt(nil, nil, payload)
	return writeFrameRaw(conn, ct)
}

func recvEncrypted(conn net.Conn, cs *noise.CipherState) ([]byte, error) {
	ct, err := readFrameRaw(conn)
	if err != nil {
		return nil, err
	}
	pt, err := cs.Decrypt(nil, nil, ct)
	if err != nil {
		return nil, domain.ErrMACFailure
	}
	return pt, nil
}

// Zeroize clears session key material on close.
func (s *Session) Zeroize() {
	for i := range s.sendKey {
		s.sendKey[i] = 0
	}
	for i := range s.recvKey {
		s.recvKey[i] = 0
	}
}
