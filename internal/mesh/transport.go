package mesh

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tutu-network/agentcore/internal/domain"
)

const maxFrameSize = 1 << 20 // 1 MiB, generous headroom over any mesh message

// writeFrameRaw/readFrameRaw move length-prefixed, unencrypted bytes
// during the handshake, before a Session's AEAD keys exist.
func writeFrameRaw(conn net.Conn, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func readFrameRaw(conn net.Conn) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("mesh: frame too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Send encrypts and writes one transport-layer frame, stamping the
// next send nonce monotonically.
func (s *Session) Send(plaintext []byte) error {
	aead, err := chacha20poly1305.New(s.sendKey[:])
	if err != nil {
		return err
	}

	nonce := nonceFromCounter(s.sendNonce)
	ct := aead.Seal(nil, nonce[:], plaintext, nil)

	frame := make([]byte, 8+len(ct))
	binary.BigEndian.PutUint64(frame[:8], s.sendNonce)
	copy(frame[8:], ct)

	s.sendNonce++
	return writeFrameRaw(s.conn, frame)
}

// Recv reads and decrypts one transport-layer frame, rejecting any
// nonce that does not exactly match the expected monotonic sequence
// per spec.md's replay-protection requirement.
func (s *Session) Recv() ([]byte, error) {
	frame, err := readFrameRaw(s.conn)
	if err != nil {
		return nil, err
	}
	if len(frame) < 8 {
		return nil, domain.ErrMACFailure
	}

	got := binary.BigEndian.Uint64(frame[:8])
	if got != s.recvNonce {
		return nil, domain.ErrNonceOutOfOrder
	}

	aead, err := chacha20poly1305.New(s.recvKey[:])
	if err != nil {
		return nil, err
	}
	nonce := nonceFromCounter(got)
	pt, err := aead.Open(nil, nonce[:], frame[8:], nil)
	if err != nil {
		return nil, domain.ErrMACFailure
	}

	s.recvNonce++
	return pt, nil
}

// Close zeroizes key material and closes the underlying connection.
func (s *Session) Close() error {
	s.Zeroize()
	return s.conn.Close()
}

func nonceFromCounter(counter uint64) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint64(n[4:], counter)
	return n
}
