package taior

import (
	"github.com/taior/taior-go/pkg/aorp"
)

// Router wraps the decision engine with the mode-to-policy mapping used
// by sessions.
type Router struct {
	engine  *aorp.DecisionEngine
	entropy aorp.EntropySource
}

// NewRouter creates a router with secure entropy and a bounded candidate
// window.
func NewRouter() *Router {
	return &Router{
		engine:  aorp.NewDecisionEngine(aorp.DecisionConfig{MaxCandidates: 10}),
		entropy: aorp.SecureRandom(),
	}
}

// DecideNextHop picks one neighbor for the given profile, or reports false
// when no candidate is available.
func (r *Router) DecideNextHop(neighbors []string, cfg ModeConfig) (string, bool) {
	if len(neighbors) == 0 {
		return "", false
	}

	policy := aorp.NewPolicy().
		RequireDiversity(diversityForHops(cfg.Hops)).
		LatencyWeight(2).
		BandwidthWeight(1).
		AvoidLoops(true).
		MaxHops(cfg.Hops).
		Build()

	id, ok := r.engine.DecideNextHop(aorp.NewNeighborSet(neighbors...), nil, r.entropy, policy)
	if !ok {
		return "", false
	}
	return string(id), true
}

// diversityForHops maps path length to a diversity requirement: the longer
// the path, the harder the engine avoids related relays.
func diversityForHops(hops uint8) aorp.DiversityLevel {
	switch {
	case hops <= 1:
		return aorp.DiversityLow
	case hops <= 3:
		return aorp.DiversityMedium
	default:
		return aorp.DiversityHigh
	}
}
