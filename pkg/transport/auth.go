package transport

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"lukechampine.com/blake3"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/pkg/identity"
)

// authTTL is how long a relay auth token stays valid.
const authTTL = time.Hour

// RelayAuth is the bearer token a client presents to a relay. The token
// binds the client address to an issue time; relays only check expiry and
// use the token as an opaque registration key.
type RelayAuth struct {
	Token     string `json:"token"`
	ExpiresAt uint64 `json:"expires_at"`
}

// GenerateAuth derives a token from the client address and the current
// time.
func GenerateAuth(addr identity.Address, clk clock.Clock) RelayAuth {
	if clk == nil {
		clk = clock.System()
	}
	now := clk.NowSecs()

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], now)

	h := blake3.New(32, nil)
	h.Write([]byte(addr.String()))
	h.Write(ts[:])

	return RelayAuth{
		Token:     hex.EncodeToString(h.Sum(nil)),
		ExpiresAt: now + uint64(authTTL/time.Second),
	}
}

// Valid reports whether the token is unexpired.
func (a RelayAuth) Valid(clk clock.Clock) bool {
	if clk == nil {
		clk = clock.System()
	}
	return clk.NowSecs() < a.ExpiresAt
}
