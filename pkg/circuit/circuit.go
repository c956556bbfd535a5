// Package circuit builds multi-hop relay circuits and provides the layered
// encryption that gives each relay exactly one decryption operation.
package circuit

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/pkg/aorp"
	"github.com/taior/taior-go/pkg/identity"
)

const (
	// KeySize is the per-hop symmetric key length.
	KeySize = 32

	// NonceSize is the per-hop base nonce length.
	NonceSize = 12

	// IDSize is the circuit identifier length.
	IDSize = 16

	// DefaultTTL is how long a circuit stays usable.
	DefaultTTL = 600 * time.Second
)

var (
	// ErrCircuitExpired is returned when encryption is attempted past the
	// circuit TTL.
	ErrCircuitExpired = errors.New("circuit: expired")

	// ErrEncryption is returned on AEAD failure during layering.
	ErrEncryption = errors.New("circuit: encryption failed")
)

// InsufficientNodesError reports that the relay pool cannot supply the
// requested number of distinct hops.
type InsufficientNodesError struct {
	Need int
}

func (e *InsufficientNodesError) Error() string {
	return fmt.Sprintf("circuit: insufficient nodes for %d hops", e.Need)
}

// HopTimeoutError reports a non-responsive hop. The build and encrypt
// paths never produce it; it is reserved for runtime forwarding.
type HopTimeoutError struct {
	Hop int
}

func (e *HopTimeoutError) Error() string {
	return fmt.Sprintf("circuit: hop %d timed out", e.Hop)
}

// Node is one relay position in a circuit: its address plus the ephemeral
// key material assigned for this circuit only.
type Node struct {
	Address   identity.Address
	SharedKey []byte
	BaseNonce []byte
}

// Circuit is an immutable, short-lived ordered path of relays, head to
// tail. A rebuilt circuit is a new value; the old one is dropped.
type Circuit struct {
	ID         [IDSize]byte
	Nodes      []Node
	CreatedAt  uint64
	TTLSeconds uint64
}

// newCircuit assigns a random id and stamps the creation time.
func newCircuit(nodes []Node, ttlSeconds uint64, clk clock.Clock) (*Circuit, error) {
	c := &Circuit{
		Nodes:      nodes,
		CreatedAt:  clk.NowSecs(),
		TTLSeconds: ttlSeconds,
	}
	if _, err := rand.Read(c.ID[:]); err != nil {
		return nil, fmt.Errorf("circuit: sample id: %w", err)
	}
	return c, nil
}

// HopCount returns the number of relays in the path.
func (c *Circuit) HopCount() int { return len(c.Nodes) }

// Expired reports whether the circuit is past its TTL.
func (c *Circuit) Expired(clk clock.Clock) bool {
	now := clk.NowSecs()
	return now > c.CreatedAt && now-c.CreatedAt > c.TTLSeconds
}

// IDString returns the hex form of the circuit id for logging.
func (c *Circuit) IDString() string {
	return hex.EncodeToString(c.ID[:])
}

// Builder assembles circuits from a pool of known relays, delegating hop
// choice to the routing decision engine. Not safe for concurrent use.
type Builder struct {
	engine  *aorp.DecisionEngine
	entropy aorp.EntropySource
	pool    map[string]identity.Address
	minHops int
	maxHops int
	ttl     uint64
	clk     clock.Clock
	log     *logging.Logger
}

// NewBuilder creates a builder. A nil clock falls back to the system
// clock; a nil logger discards output.
func NewBuilder(minHops, maxHops int, ttl time.Duration, clk clock.Clock, log *logging.Logger) *Builder {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Builder{
		engine:  aorp.NewDecisionEngine(aorp.DecisionConfig{MaxCandidates: 10}),
		entropy: aorp.SecureRandom(),
		pool:    make(map[string]identity.Address),
		minHops: minHops,
		maxHops: maxHops,
		ttl:     uint64(ttl / time.Second),
		clk:     clk,
		log:     log.WithComponent("circuit-builder"),
	}
}

// AddNode registers a relay in the pool.
func (b *Builder) AddNode(id string, addr identity.Address) {
	b.pool[id] = addr
}

// RemoveNode drops a relay from the pool.
func (b *Builder) RemoveNode(id string) {
	delete(b.pool, id)
}

// PoolSize returns the number of known relays.
func (b *Builder) PoolSize() int { return len(b.pool) }

// Build selects targetHops distinct relays and assigns each a fresh key
// and base nonce. The hop count is capped at the builder maximum; a pool
// smaller than the capped count fails with InsufficientNodesError.
func (b *Builder) Build(targetHops int) (*Circuit, error) {
	if targetHops < b.minHops {
		return nil, &InsufficientNodesError{Need: b.minHops}
	}

	hops := targetHops
	if hops > b.maxHops {
		hops = b.maxHops
	}
	if len(b.pool) < hops {
		return nil, &InsufficientNodesError{Need: hops}
	}

	b.engine.ResetHistory()

	nodes := make([]Node, 0, hops)
	used := make([]aorp.NeighborID, 0, hops)
	usedSet := make(map[string]struct{}, hops)

	for len(nodes) < hops {
		candidates := b.availableExcluding(usedSet)
		if len(candidates) == 0 {
			return nil, &InsufficientNodesError{Need: hops}
		}

		var picked string
		if len(candidates) == 1 {
			picked = candidates[0]
		} else {
			remaining := hops - len(nodes)
			policy := aorp.NewPolicy().
				RequireDiversity(diversityFor(remaining)).
				LatencyWeight(2).
				BandwidthWeight(1).
				AvoidLoops(true).
				MaxHops(uint8(remaining)).
				Exclude(used...).
				Build()

			id, ok := b.engine.DecideNextHop(aorp.NewNeighborSet(candidates...), nil, b.entropy, policy)
			if !ok {
				return nil, &InsufficientNodesError{Need: hops}
			}
			picked = string(id)
		}

		key, nonce, err := hopKeys()
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, Node{
			Address:   b.pool[picked],
			SharedKey: key,
			BaseNonce: nonce,
		})
		used = append(used, aorp.NeighborID(picked))
		usedSet[picked] = struct{}{}
	}

	circ, err := newCircuit(nodes, b.ttl, b.clk)
	if err != nil {
		return nil, err
	}

	b.log.WithCircuit(circ.IDString()).Debug().
		Int("hops", circ.HopCount()).
		Msg("Circuit built")

	return circ, nil
}

func (b *Builder) availableExcluding(used map[string]struct{}) []string {
	out := make([]string, 0, len(b.pool))
	for id := range b.pool {
		if _, ok := used[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// diversityFor mirrors the mode mapping: short paths tolerate low
// diversity, long paths demand high.
func diversityFor(remaining int) aorp.DiversityLevel {
	switch {
	case remaining <= 1:
		return aorp.DiversityLow
	case remaining <= 3:
		return aorp.DiversityMedium
	default:
		return aorp.DiversityHigh
	}
}

// hopKeys samples a fresh symmetric key and base nonce for one hop.
func hopKeys() (key, nonce []byte, err error) {
	key = make([]byte, KeySize)
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("circuit: sample hop key: %w", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("circuit: sample hop nonce: %w", err)
	}
	return key, nonce, nil
}
