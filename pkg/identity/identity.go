// Package identity provides ephemeral session identities and the
// self-describing taior:// address format.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"golang.org/x/crypto/curve25519"
	"lukechampine.com/blake3"
)

// AddressScheme is the textual prefix of every taior address.
const AddressScheme = "taior://"

// AddressLen is the total length of the textual form: scheme + 64 hex chars.
const AddressLen = len(AddressScheme) + 64

var addressPattern = regexp.MustCompile(`^taior://[0-9a-f]{64}$`)

// Address is the stable textual identifier derived from a public key.
// Addresses are opaque; they carry no routing information.
type Address string

// Valid reports whether the address matches the taior textual form.
func (a Address) Valid() bool {
	return addressPattern.MatchString(string(a))
}

// String returns the textual form.
func (a Address) String() string { return string(a) }

// FromPublicKey derives an address from a 32-byte X25519 public key:
// taior:// followed by the hex BLAKE3-256 digest of the key.
func FromPublicKey(pub []byte) Address {
	sum := blake3.Sum256(pub)
	return Address(AddressScheme + hex.EncodeToString(sum[:]))
}

// Identity is an ephemeral X25519 keypair with its derived address.
// It lives for one session and is never persisted.
type Identity struct {
	secret  []byte
	public  []byte
	address Address
}

// New samples a fresh X25519 secret from the system CSPRNG and derives
// the public key and address. Distinct calls produce unlinkable identities.
func New() (*Identity, error) {
	secret := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("identity: sample secret: %w", err)
	}

	public, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}

	return &Identity{
		secret:  secret,
		public:  public,
		address: FromPublicKey(public),
	}, nil
}

// Address returns the textual address, stable for the identity lifetime.
func (id *Identity) Address() Address { return id.address }

// PublicKey returns a copy of the X25519 public key.
func (id *Identity) PublicKey() []byte {
	pub := make([]byte, len(id.public))
	copy(pub, id.public)
	return pub
}

// SharedSecret performs X25519 ECDH against a peer public key.
func (id *Identity) SharedSecret(peerPublic []byte) ([]byte, error) {
	if len(peerPublic) != curve25519.PointSize {
		return nil, fmt.Errorf("identity: invalid peer key length %d", len(peerPublic))
	}
	secret, err := curve25519.X25519(id.secret, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("identity: ecdh: %w", err)
	}
	return secret, nil
}

// Wipe zeroes the secret scalar. The identity is unusable afterwards.
func (id *Identity) Wipe() {
	for i := range id.secret {
		id.secret[i] = 0
	}
}
