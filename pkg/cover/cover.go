// Package cover generates decoy packets that are wire-indistinguishable
// from real traffic. Two strategies are provided: a Bernoulli generator
// driven by a fixed ratio and a rate-governed generator with an adaptive
// cover/real ratio.
package cover

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/pkg/packet"
)

// coverPayloadSize is the decoy payload length before padding; padding
// makes the final size match real traffic.
const coverPayloadSize = 16

// ErrGenerate is returned when decoy synthesis fails. Cover failures are
// best-effort: callers log and skip the tick.
var ErrGenerate = errors.New("cover: generate failed")

// Config tunes cover traffic emission.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	PacketsPerSecond float64       `yaml:"packets_per_second"`
	MinSize          int           `yaml:"min_size"`
	MaxSize          int           `yaml:"max_size"`
	Jitter           time.Duration `yaml:"jitter"`
	TargetRatio      float64       `yaml:"target_ratio"`
}

// DefaultConfig returns the stock cover configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		PacketsPerSecond: 2.0,
		MinSize:          512,
		MaxSize:          2048,
		Jitter:           500 * time.Millisecond,
		TargetRatio:      0.5,
	}
}

// Generator is the Bernoulli strategy: each call emits cover with a fixed
// probability.
type Generator struct {
	enabled bool
	ratio   float64
}

// NewGenerator creates a Bernoulli cover generator.
func NewGenerator(enabled bool, ratio float64) *Generator {
	return &Generator{enabled: enabled, ratio: ratio}
}

// ShouldSendCover draws once against the configured ratio.
func (g *Generator) ShouldSendCover() bool {
	if !g.enabled {
		return false
	}
	return randFloat() < g.ratio
}

// GeneratePacket synthesises a decoy through the same construction path as
// real traffic: random payload, identical padding, identical AEAD.
func (g *Generator) GeneratePacket(paddingSize int, ttl uint8) (*packet.Packet, error) {
	payload := make([]byte, coverPayloadSize)
	if _, err := rand.Read(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}

	pkt, err := packet.New(payload, ttl, paddingSize, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	return pkt, nil
}

// RateGovernor paces cover emission to a target packet rate with uniform
// timing jitter. Decoy sizes are drawn from [MinSize, MaxSize] so the size
// distribution matches configured real traffic.
type RateGovernor struct {
	cfg     Config
	limiter *rate.Limiter
	clk     clock.Clock
}

// NewRateGovernor creates a governor. A nil clock falls back to the system
// clock.
func NewRateGovernor(cfg Config, clk clock.Clock) *RateGovernor {
	if clk == nil {
		clk = clock.System()
	}
	pps := cfg.PacketsPerSecond
	if pps <= 0 {
		pps = 1
	}
	return &RateGovernor{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(pps), 1),
		clk:     clk,
	}
}

// ShouldSendCover reports whether the rate budget allows a decoy now. The
// decision point is jittered uniformly within ±cfg.Jitter.
func (g *RateGovernor) ShouldSendCover() bool {
	if !g.cfg.Enabled || g.cfg.PacketsPerSecond <= 0 {
		return false
	}
	return g.limiter.AllowN(g.jitteredNow(), 1)
}

func (g *RateGovernor) jitteredNow() time.Time {
	now := g.clk.Now()
	if g.cfg.Jitter <= 0 {
		return now
	}
	span := uint64(2 * g.cfg.Jitter)
	offset := time.Duration(randUint64n(span)) - g.cfg.Jitter
	return now.Add(offset)
}

// GeneratePayload draws a random decoy payload sized within the configured
// bounds.
func (g *RateGovernor) GeneratePayload() ([]byte, error) {
	size := g.cfg.MinSize
	if g.cfg.MaxSize > g.cfg.MinSize {
		size += int(randUint64n(uint64(g.cfg.MaxSize - g.cfg.MinSize + 1)))
	}

	payload := make([]byte, size)
	if _, err := rand.Read(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	return payload, nil
}

// WrapInPacket frames a decoy payload exactly like a real packet.
func (g *RateGovernor) WrapInPacket(payload []byte) (*packet.Packet, error) {
	pkt, err := packet.New(payload, 3, 0, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerate, err)
	}
	return pkt, nil
}

// randFloat draws a uniform value in [0, 1).
func randFloat() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("cover: csprng: " + err.Error())
	}
	// 53 bits of mantissa
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / float64(1<<53)
}

// randUint64n draws a uniform value in [0, n); n of zero yields zero.
func randUint64n(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	var buf [8]byte
	limit := ^uint64(0) - ^uint64(0)%n
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("cover: csprng: " + err.Error())
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return v % n
		}
	}
}
