// Package relay implements the relay-node side of taior circuits: holding
// per-circuit key material delivered out of band and peeling exactly one
// onion layer per packet.
package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/pkg/circuit"
)

var (
	// ErrUnknownCircuit is returned for packets on circuits this node has
	// no key material for.
	ErrUnknownCircuit = errors.New("relay: unknown circuit")

	// ErrInvalidPacket is returned when layer decryption fails; the packet
	// must be dropped.
	ErrInvalidPacket = errors.New("relay: invalid packet")
)

// Action is what the node should do with a peeled packet.
type Action int

const (
	// ActionForward passes the inner ciphertext to the successor.
	ActionForward Action = iota

	// ActionDeliver hands the inner ciphertext to the local endpoint.
	ActionDeliver
)

// Decision is the outcome of processing one packet.
type Decision struct {
	Action  Action
	Next    string
	Payload []byte
}

// circuitEntry is the key material for one circuit leg.
type circuitEntry struct {
	sharedKey   []byte
	baseNonce   []byte
	predecessor string
	successor   string
	createdAt   time.Time
	lastUsed    time.Time
}

// Node processes onion packets for the circuits it participates in.
// Key material arrives through the out-of-band circuit setup channel.
type Node struct {
	mu       sync.Mutex
	circuits map[string]*circuitEntry

	circuitTTL time.Duration
	clk        clock.Clock
	log        *logging.Logger
	metrics    *metrics.PrometheusMetrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NodeConfig tunes a relay node.
type NodeConfig struct {
	// CircuitTTL is how long installed key material lives without use.
	CircuitTTL time.Duration

	// CleanupInterval is how often expired circuits are purged.
	CleanupInterval time.Duration
}

// DefaultNodeConfig returns stock settings aligned with the session
// circuit TTL.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		CircuitTTL:      circuit.DefaultTTL,
		CleanupInterval: time.Minute,
	}
}

// NewNode creates a relay node and starts its cleanup loop.
func NewNode(cfg NodeConfig, clk clock.Clock, log *logging.Logger, m *metrics.PrometheusMetrics) *Node {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.CircuitTTL <= 0 {
		cfg.CircuitTTL = circuit.DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	n := &Node{
		circuits:   make(map[string]*circuitEntry),
		circuitTTL: cfg.CircuitTTL,
		clk:        clk,
		log:        log.WithComponent("relay-node"),
		metrics:    m,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go n.cleanupLoop(cfg.CleanupInterval)
	return n
}

// Stop halts the cleanup loop and wipes key material.
func (n *Node) Stop() {
	close(n.stopCh)
	<-n.doneCh

	n.mu.Lock()
	defer n.mu.Unlock()
	for id, entry := range n.circuits {
		wipe(entry.sharedKey)
		delete(n.circuits, id)
	}
}

// InstallCircuit stores the key material for one circuit leg. The shared
// key and base nonce arrive through the authenticated setup channel.
func (n *Node) InstallCircuit(circuitID string, sharedKey, baseNonce []byte, predecessor, successor string) error {
	if len(sharedKey) != circuit.KeySize {
		return fmt.Errorf("relay: shared key length %d, want %d", len(sharedKey), circuit.KeySize)
	}
	if len(baseNonce) != circuit.NonceSize {
		return fmt.Errorf("relay: base nonce length %d, want %d", len(baseNonce), circuit.NonceSize)
	}

	key := make([]byte, circuit.KeySize)
	copy(key, sharedKey)
	nonce := make([]byte, circuit.NonceSize)
	copy(nonce, baseNonce)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.circuits[circuitID] = &circuitEntry{
		sharedKey:   key,
		baseNonce:   nonce,
		predecessor: predecessor,
		successor:   successor,
		createdAt:   n.clk.Now(),
		lastUsed:    n.clk.Now(),
	}

	n.log.WithCircuit(circuitID).Debug().Msg("Circuit keys installed")
	return nil
}

// RemoveCircuit drops a circuit leg and wipes its key.
func (n *Node) RemoveCircuit(circuitID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if entry, ok := n.circuits[circuitID]; ok {
		wipe(entry.sharedKey)
		delete(n.circuits, circuitID)
	}
}

// CircuitCount returns the number of installed circuit legs.
func (n *Node) CircuitCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.circuits)
}

// ProcessPacket peels this node's layer from data using the sequence
// number carried on the control channel, and decides whether the inner
// ciphertext is forwarded or delivered.
func (n *Node) ProcessPacket(circuitID string, seq uint64, data []byte) (*Decision, error) {
	n.mu.Lock()
	entry, ok := n.circuits[circuitID]
	if ok {
		entry.lastUsed = n.clk.Now()
	}
	n.mu.Unlock()

	if !ok {
		n.drop("unknown circuit")
		return nil, ErrUnknownCircuit
	}

	inner, err := circuit.OpenLayer(entry.sharedKey, entry.baseNonce, seq, data)
	if err != nil {
		n.drop("layer decrypt failed")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPacket, err)
	}

	if entry.successor == "" {
		if n.metrics != nil {
			n.metrics.PacketsDelivered.Inc()
		}
		return &Decision{Action: ActionDeliver, Payload: inner}, nil
	}

	if n.metrics != nil {
		n.metrics.PacketsForwarded.Inc()
	}
	return &Decision{Action: ActionForward, Next: entry.successor, Payload: inner}, nil
}

func (n *Node) drop(reason string) {
	if n.metrics != nil {
		n.metrics.PacketsDropped.Inc()
	}
	n.log.Debug().Str("reason", reason).Msg("Packet dropped")
}

func (n *Node) cleanupLoop(interval time.Duration) {
	defer close(n.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.purgeExpired()
		}
	}
}

func (n *Node) purgeExpired() {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clk.Now()
	var purged int
	for id, entry := range n.circuits {
		if now.Sub(entry.lastUsed) > n.circuitTTL {
			wipe(entry.sharedKey)
			delete(n.circuits, id)
			purged++
		}
	}

	if purged > 0 {
		if n.metrics != nil {
			n.metrics.CircuitsExpired.Add(float64(purged))
		}
		n.log.Info().
			Int("purged", purged).
			Int("remaining", len(n.circuits)).
			Msg("Expired circuit keys purged")
	}
}

// CircuitIDFromBytes renders a circuit id for the control channel.
func CircuitIDFromBytes(id [circuit.IDSize]byte) string {
	return hex.EncodeToString(id[:])
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
