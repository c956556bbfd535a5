package aorp

import (
	"crypto/rand"
	"encoding/binary"
)

// EntropySource supplies the randomness for weighted selection. Decisions
// must use a cryptographically secure source in production; tests may
// substitute a deterministic one.
type EntropySource interface {
	FillBytes(p []byte)
}

type secureRandom struct{}

// SecureRandom returns an EntropySource backed by crypto/rand.
func SecureRandom() EntropySource {
	return secureRandom{}
}

func (secureRandom) FillBytes(p []byte) {
	if _, err := rand.Read(p); err != nil {
		// crypto/rand never fails on supported platforms
		panic("aorp: csprng: " + err.Error())
	}
}

// uint64n draws an unbiased value in [0, n) via rejection sampling.
func uint64n(src EntropySource, n uint64) uint64 {
	if n == 0 {
		return 0
	}

	var buf [8]byte
	limit := ^uint64(0) - ^uint64(0)%n
	for {
		src.FillBytes(buf[:])
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return v % n
		}
	}
}
