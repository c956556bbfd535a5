// Package taior is an anonymity-preserving overlay messaging library.
// Ephemeral peers exchange padded, authenticated-encrypted packets over a
// probabilistically chosen multi-hop path; each relay peels exactly one
// encryption layer and learns only its immediate neighbors.
package taior

import (
	"errors"
	"fmt"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/metrics"
	"github.com/taior/taior-go/pkg/circuit"
	"github.com/taior/taior-go/pkg/cover"
	"github.com/taior/taior-go/pkg/identity"
	"github.com/taior/taior-go/pkg/packet"
)

const (
	defaultMinHops = 1
	defaultMaxHops = 5
)

var (
	// ErrNoNeighbors is returned when a send finds an empty discovery set
	// and no live circuit.
	ErrNoNeighbors = errors.New("taior: no neighbors available")

	// ErrCircuitBuild wraps transient circuit build failures other than an
	// undersized pool.
	ErrCircuitBuild = errors.New("taior: circuit build failed")
)

// Session is one ephemeral taior endpoint. It owns an identity, a relay
// pool, at most one live circuit and a cover-traffic source. A Session is
// not safe for concurrent use; run one per goroutine.
type Session struct {
	identity  *identity.Identity
	router    *Router
	discovery *NodeDiscovery
	builder   *circuit.Builder
	cover     *cover.Generator
	clk       clock.Clock
	log       *logging.Logger
	metrics   *metrics.PrometheusMetrics

	onion *circuit.OnionEncryptor

	// coverSink receives generated decoys for transport forwarding; nil
	// drops them after counting.
	coverSink func(*packet.Packet)

	lastSeq uint64
}

// SessionOption customises construction.
type SessionOption func(*Session)

// WithClock substitutes the wall clock, for deterministic tests.
func WithClock(clk clock.Clock) SessionOption {
	return func(s *Session) { s.clk = clk }
}

// WithLogger attaches a structured logger.
func WithLogger(log *logging.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithMetrics attaches a Prometheus metrics set.
func WithMetrics(m *metrics.PrometheusMetrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithCoverSink installs a destination for generated cover packets, e.g.
// the transport's send queue.
func WithCoverSink(sink func(*packet.Packet)) SessionOption {
	return func(s *Session) { s.coverSink = sink }
}

// New creates a session with a fresh ephemeral identity and an empty
// relay pool.
func New(opts ...SessionOption) (*Session, error) {
	return newSession(nil, opts...)
}

// WithBootstrap creates a session seeded with bootstrap relays.
func WithBootstrap(bootstrap []string, opts ...SessionOption) (*Session, error) {
	return newSession(bootstrap, opts...)
}

func newSession(bootstrap []string, opts ...SessionOption) (*Session, error) {
	id, err := identity.New()
	if err != nil {
		return nil, err
	}

	s := &Session{
		identity:  id,
		router:    NewRouter(),
		discovery: NewDiscovery(),
		cover:     cover.NewGenerator(false, 0.3),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clk == nil {
		s.clk = clock.System()
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.WithComponent("session")

	s.builder = circuit.NewBuilder(defaultMinHops, defaultMaxHops, circuit.DefaultTTL, s.clk, s.log)

	for _, n := range bootstrap {
		s.AddNode(n)
	}

	return s, nil
}

// Address returns this session's taior address.
func (s *Session) Address() string {
	return s.identity.Address().String()
}

// AddNode registers a candidate relay in the discovery set and the circuit
// pool, assigning it a freshly generated address.
func (s *Session) AddNode(name string) error {
	if name == "" {
		return nil
	}

	relayID, err := identity.New()
	if err != nil {
		return err
	}

	s.discovery.AddNode(name)
	s.builder.AddNode(name, relayID.Address())
	return nil
}

// EnableCoverTraffic replaces the cover generator with one using the given
// ratio.
func (s *Session) EnableCoverTraffic(enabled bool, ratio float64) {
	s.cover = cover.NewGenerator(enabled, ratio)
}

// Circuit returns the live circuit, or nil.
func (s *Session) Circuit() *circuit.Circuit {
	if s.onion == nil {
		return nil
	}
	return s.onion.Circuit()
}

// LastSeq returns the onion sequence number of the most recent circuit
// send; the transport carries it to relays alongside the packet.
func (s *Session) LastSeq() uint64 { return s.lastSeq }

// Send wraps data into a packet for the selected profile. With a live (or
// buildable) circuit the payload is onion-encrypted over it; with an
// undersized relay pool the session degrades to single-layer encryption
// rather than failing.
func (s *Session) Send(data []byte, options SendOptions) (*packet.Packet, error) {
	cfg := ConfigForMode(options.Mode)
	if options.Hops > 0 {
		cfg = cfg.WithHops(options.Hops)
	}

	s.maybeEmitCover(cfg)

	neighbors := s.discovery.Neighbors()
	if hop, ok := s.router.DecideNextHop(neighbors, cfg); ok {
		s.log.Debug().Str("next_hop", hop).Msg("Advisory next hop")
		if s.metrics != nil {
			s.metrics.RoutingDecisions.Inc()
		}
	}

	if s.discovery.Count() == 0 && s.onion == nil {
		return nil, ErrNoNeighbors
	}

	// A single hop gains nothing from onion wrapping: the base packet
	// already carries exactly one encryption layer.
	multiHop := cfg.Hops > 1
	if multiHop {
		if err := s.ensureCircuit(int(cfg.Hops)); err != nil {
			return nil, err
		}
	}

	basePkt, err := packet.New(data, cfg.Hops, cfg.PaddingSize, false)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.PacketsSent.Inc()
		s.metrics.PayloadBytes.Add(float64(len(data)))
	}

	if !multiHop || s.onion == nil {
		return basePkt, nil
	}

	onionBytes, seq, err := s.onion.Encrypt(basePkt.EncryptedPayload)
	if errors.Is(err, circuit.ErrCircuitExpired) {
		// One rebuild attempt, then surface.
		if rebuildErr := s.rebuildCircuit(int(cfg.Hops)); rebuildErr != nil {
			return nil, rebuildErr
		}
		if s.onion == nil {
			return basePkt, nil
		}
		onionBytes, seq, err = s.onion.Encrypt(basePkt.EncryptedPayload)
	}
	if err != nil {
		return nil, err
	}

	s.lastSeq = seq
	return &packet.Packet{
		EncryptedPayload: onionBytes,
		IKM:              basePkt.IKM,
		TTL:              cfg.Hops,
		IsCover:          false,
	}, nil
}

// maybeEmitCover draws the cover decision and, on success, pushes one
// decoy to the sink. Cover failures never affect the real packet path.
func (s *Session) maybeEmitCover(cfg ModeConfig) {
	if !s.cover.ShouldSendCover() {
		return
	}

	decoy, err := s.cover.GeneratePacket(cfg.PaddingSize, cfg.Hops)
	if err != nil {
		s.log.Warn().Err(err).Msg("Cover generation failed; skipping tick")
		if s.metrics != nil {
			s.metrics.RecordError("cover_gen")
		}
		return
	}

	if s.metrics != nil {
		s.metrics.CoverPackets.Inc()
	}
	if s.coverSink != nil {
		s.coverSink(decoy)
	}
}

// ensureCircuit rebuilds the circuit when absent, expired or sized for a
// different hop target. An undersized pool degrades to no circuit.
func (s *Session) ensureCircuit(targetHops int) error {
	if s.onion != nil {
		circ := s.onion.Circuit()
		if !circ.Expired(s.clk) && circ.HopCount() == clampHops(targetHops, defaultMaxHops) {
			return nil
		}
		if circ.Expired(s.clk) && s.metrics != nil {
			s.metrics.CircuitsExpired.Inc()
		}
	}
	return s.rebuildCircuit(targetHops)
}

func (s *Session) rebuildCircuit(targetHops int) error {
	s.onion = nil

	circ, err := s.builder.Build(targetHops)
	if err != nil {
		var insufficient *circuit.InsufficientNodesError
		if errors.As(err, &insufficient) {
			// Availability over anonymity for small networks: fall back to
			// single-layer encryption, observably but silently.
			s.log.Warn().
				Int("need", insufficient.Need).
				Int("pool", s.builder.PoolSize()).
				Msg("Relay pool too small; degrading to direct encryption")
			if s.metrics != nil {
				s.metrics.DegradedSends.Inc()
			}
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCircuitBuild, err)
	}

	s.onion = circuit.NewOnionEncryptor(circ, s.clk)

	if s.metrics != nil {
		s.metrics.CircuitsBuilt.Inc()
		s.metrics.CircuitHops.Observe(float64(circ.HopCount()))
	}
	s.log.WithCircuit(circ.IDString()).Debug().
		Int("hops", circ.HopCount()).
		Msg("Circuit ready")
	return nil
}

func clampHops(hops, max int) int {
	if hops > max {
		return max
	}
	return hops
}
