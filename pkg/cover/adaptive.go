package cover

import (
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/pkg/packet"
)

// defaultWindow is the rolling accounting window for the adaptive ratio.
const defaultWindow = 60 * time.Second

// Adaptive maintains a rolling cover/real ratio and emits decoys with a
// probability proportional to the deficit against the target ratio.
type Adaptive struct {
	gov         *RateGovernor
	realCount   uint64
	coverCount  uint64
	targetRatio float64
	windowStart uint64
	windowMs    uint64
	clk         clock.Clock
}

// NewAdaptive creates an adaptive cover source on top of a rate governor.
func NewAdaptive(cfg Config, targetRatio float64, clk clock.Clock) *Adaptive {
	if clk == nil {
		clk = clock.System()
	}
	return &Adaptive{
		gov:         NewRateGovernor(cfg, clk),
		targetRatio: targetRatio,
		windowStart: clk.NowMillis(),
		windowMs:    uint64(defaultWindow / time.Millisecond),
		clk:         clk,
	}
}

// OnRealTraffic records one real packet in the current window.
func (a *Adaptive) OnRealTraffic() {
	a.checkWindowReset()
	a.realCount++
}

// ShouldSendAdaptiveCover decides whether to emit a decoy now. With no
// real traffic observed it falls back to the rate governor; otherwise it
// emits with probability min(deficit/10, 1) where deficit is how many
// cover packets short of the target ratio the window is.
func (a *Adaptive) ShouldSendAdaptiveCover() bool {
	a.checkWindowReset()

	if a.realCount == 0 {
		return a.gov.ShouldSendCover()
	}

	currentRatio := float64(a.coverCount) / float64(a.realCount)
	if currentRatio >= a.targetRatio {
		return false
	}

	deficit := a.targetRatio*float64(a.realCount) - float64(a.coverCount)
	probability := deficit / 10.0
	if probability > 1.0 {
		probability = 1.0
	}

	if randFloat() < probability {
		a.coverCount++
		return true
	}
	return false
}

// GeneratePayload draws a decoy payload through the governor.
func (a *Adaptive) GeneratePayload() ([]byte, error) {
	return a.gov.GeneratePayload()
}

// WrapInPacket frames a decoy payload through the governor.
func (a *Adaptive) WrapInPacket(payload []byte) (*packet.Packet, error) {
	return a.gov.WrapInPacket(payload)
}

// Stats returns the window's counts and the current cover/real ratio.
func (a *Adaptive) Stats() (real, cover uint64, ratio float64) {
	if a.realCount > 0 {
		ratio = float64(a.coverCount) / float64(a.realCount)
	}
	return a.realCount, a.coverCount, ratio
}

func (a *Adaptive) checkWindowReset() {
	now := a.clk.NowMillis()
	if now-a.windowStart >= a.windowMs {
		a.realCount = 0
		a.coverCount = 0
		a.windowStart = now
	}
}
