package circuit

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/taior/taior-go/internal/clock"
)

// OnionEncryptor layers AEAD encryption over a circuit, tail to head, so
// that each relay peels exactly one envelope.
//
// The circuit stores one base nonce per hop; reusing it across packets
// under ChaCha20-Poly1305 would be catastrophic. The encryptor therefore
// keeps a strictly increasing sequence counter and derives the layer nonce
// as baseNonce XOR sequence. The sequence rides the relay control channel,
// never the packet envelope.
type OnionEncryptor struct {
	circuit *Circuit
	clk     clock.Clock
	seq     uint64
}

// NewOnionEncryptor borrows a circuit. A nil clock falls back to the
// system clock.
func NewOnionEncryptor(c *Circuit, clk clock.Clock) *OnionEncryptor {
	if clk == nil {
		clk = clock.System()
	}
	return &OnionEncryptor{circuit: c, clk: clk}
}

// Circuit returns the borrowed circuit.
func (e *OnionEncryptor) Circuit() *Circuit { return e.circuit }

// NextSeq returns the sequence number the next Encrypt call will use.
func (e *OnionEncryptor) NextSeq() uint64 { return e.seq }

// Encrypt wraps payload in one AEAD layer per hop, innermost for the tail
// relay. It returns the onion ciphertext and the sequence number the
// layers were keyed with.
func (e *OnionEncryptor) Encrypt(payload []byte) ([]byte, uint64, error) {
	if e.circuit.Expired(e.clk) {
		return nil, 0, ErrCircuitExpired
	}

	seq := e.seq
	e.seq++

	out := payload
	for i := len(e.circuit.Nodes) - 1; i >= 0; i-- {
		sealed, err := sealLayer(&e.circuit.Nodes[i], seq, out)
		if err != nil {
			return nil, 0, err
		}
		out = sealed
	}
	return out, seq, nil
}

// DecryptLayer peels the layer belonging to the relay at hopIndex using
// the sequence number the sender keyed the onion with.
func (e *OnionEncryptor) DecryptLayer(data []byte, hopIndex int, seq uint64) ([]byte, error) {
	if hopIndex < 0 || hopIndex >= len(e.circuit.Nodes) {
		return nil, fmt.Errorf("%w: hop index %d out of range", ErrEncryption, hopIndex)
	}
	return OpenLayer(e.circuit.Nodes[hopIndex].SharedKey, e.circuit.Nodes[hopIndex].BaseNonce, seq, data)
}

// sealLayer encrypts one layer for a node.
func sealLayer(n *Node, seq uint64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(n.SharedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return aead.Seal(nil, LayerNonce(n.BaseNonce, seq), plaintext, nil), nil
}

// OpenLayer decrypts one layer with a hop's key material. Relays use this
// directly with the key and base nonce delivered during circuit setup.
func OpenLayer(key, baseNonce []byte, seq uint64, data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	plain, err := aead.Open(nil, LayerNonce(baseNonce, seq), data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return plain, nil
}

// LayerNonce derives the per-packet nonce: the hop's base nonce with the
// big-endian sequence XORed into its trailing eight bytes.
func LayerNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, base)

	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], seq)
	for i := 0; i < 8; i++ {
		nonce[NonceSize-8+i] ^= ctr[i]
	}
	return nonce
}
