// Package packet implements taior's padded, authenticated-encrypted packet
// envelope. Every packet derives its AEAD key from fresh input keying
// material carried alongside the ciphertext, so a receiver can recover the
// key without prior shared state.
package packet

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the ChaCha20-Poly1305 key length.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the AEAD nonce length.
	NonceSize = chacha20poly1305.NonceSize

	// TagSize is the AEAD authentication tag length.
	TagSize = chacha20poly1305.Overhead

	// IKMSize is the length of the per-packet input keying material.
	IKMSize = 32
)

// hkdfInfo domain-separates packet key derivation.
var hkdfInfo = []byte("taior-packet-v1")

var (
	// ErrEncrypt is returned when AEAD sealing fails.
	ErrEncrypt = errors.New("packet: encrypt failed")

	// ErrDecrypt is returned on authentication failure or corrupted
	// ciphertext. Callers must treat it as an invalid packet and drop.
	ErrDecrypt = errors.New("packet: decrypt failed")

	// ErrIKMTooShort is returned when a packet carries less than IKMSize
	// bytes of keying material.
	ErrIKMTooShort = errors.New("packet: ikm too short")
)

// Packet is a single-use envelope: AEAD ciphertext plus the keying material
// that lets the receiver re-derive the decryption key. TTL and the cover
// flag are envelope-local metadata and never appear on the wire.
type Packet struct {
	EncryptedPayload []byte
	IKM              []byte
	TTL              uint8
	IsCover          bool
}

// New pads payload to paddingSize, derives a fresh (key, nonce) pair from
// new keying material and seals the padded buffer.
func New(payload []byte, ttl uint8, paddingSize int, isCover bool) (*Packet, error) {
	if ttl == 0 {
		ttl = 1
	}

	padded := Pad(payload, paddingSize)

	ikm := make([]byte, IKMSize)
	if _, err := rand.Read(ikm); err != nil {
		return nil, fmt.Errorf("%w: sample ikm: %v", ErrEncrypt, err)
	}

	key, nonce, err := DeriveKey(ikm)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	return &Packet{
		EncryptedPayload: aead.Seal(nil, nonce, padded, nil),
		IKM:              ikm,
		TTL:              ttl,
		IsCover:          isCover,
	}, nil
}

// DecryptWithIKM recovers the padded plaintext using the keying material
// carried in the envelope. This is the direct, non-onion path; relays in a
// circuit use their circuit-derived keys instead.
func (p *Packet) DecryptWithIKM() ([]byte, error) {
	if len(p.IKM) < IKMSize {
		return nil, ErrIKMTooShort
	}

	key, nonce, err := DeriveKey(p.IKM[:IKMSize])
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	plaintext, err := aead.Open(nil, nonce, p.EncryptedPayload, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// Size returns ciphertext length plus keying-material length.
func (p *Packet) Size() int {
	return len(p.EncryptedPayload) + len(p.IKM)
}

// Pad returns payload extended with CSPRNG bytes to targetLen. A target
// shorter than the payload truncates; a zero target leaves the payload
// unpadded.
func Pad(payload []byte, targetLen int) []byte {
	if targetLen <= 0 {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out
	}

	out := make([]byte, targetLen)
	n := copy(out, payload)
	if n < targetLen {
		if _, err := io.ReadFull(rand.Reader, out[n:]); err != nil {
			// crypto/rand never fails on supported platforms
			panic("packet: csprng: " + err.Error())
		}
	}
	return out
}

// DeriveKey expands keying material into an AEAD key and nonce:
// HKDF-SHA256 with no salt and the taior packet info string.
func DeriveKey(ikm []byte) (key, nonce []byte, err error) {
	if len(ikm) < IKMSize {
		return nil, nil, ErrIKMTooShort
	}

	okm := make([]byte, KeySize+NonceSize)
	reader := hkdf.New(sha256.New, ikm, nil, hkdfInfo)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, nil, fmt.Errorf("%w: hkdf: %v", ErrEncrypt, err)
	}

	return okm[:KeySize], okm[KeySize:], nil
}
