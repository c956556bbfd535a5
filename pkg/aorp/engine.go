package aorp

// diversityPrefixLen is how many leading characters two ids must share for
// the high-diversity penalty to apply.
const diversityPrefixLen = 4

// recentWindow bounds how many past selections feed the diversity filter.
const recentWindow = 8

// DecisionEngine selects next hops. It remembers recent selections to
// enforce diversity constraints across successive decisions. Not safe for
// concurrent use.
type DecisionEngine struct {
	cfg    DecisionConfig
	recent []NeighborID
}

// NewDecisionEngine creates an engine with the given configuration.
func NewDecisionEngine(cfg DecisionConfig) *DecisionEngine {
	return &DecisionEngine{cfg: cfg}
}

// DecideNextHop selects exactly one neighbor, or reports false when no
// candidate survives the policy filters. Selection is weighted by the
// scored metrics and randomized through the entropy source.
func (e *DecisionEngine) DecideNextHop(set NeighborSet, metrics MetricView, entropy EntropySource, policy PolicyConstraints) (NeighborID, bool) {
	if set.Empty() {
		return "", false
	}

	excluded := make(map[NeighborID]struct{}, len(policy.Exclude))
	if policy.AvoidLoops {
		for _, id := range policy.Exclude {
			excluded[id] = struct{}{}
		}
	}

	repeats := make(map[NeighborID]struct{}, len(e.recent))
	if policy.Diversity >= DiversityMedium {
		for _, id := range e.recent {
			repeats[id] = struct{}{}
		}
	}

	candidates := make([]NeighborID, 0, set.Len())
	for _, id := range set.IDs() {
		if _, drop := excluded[id]; drop {
			continue
		}
		if _, drop := repeats[id]; drop {
			continue
		}
		candidates = append(candidates, id)
	}

	if max := e.cfg.MaxCandidates; max > 0 && len(candidates) > max {
		candidates = candidates[:max]
	}
	if len(candidates) == 0 {
		return "", false
	}

	weights := make([]uint64, len(candidates))
	var total uint64
	for i, id := range candidates {
		w := e.score(id, metrics, policy)
		weights[i] = w
		total += w
	}

	var picked NeighborID
	if total == 0 {
		// All weights zero: uniform choice is still unbiased.
		picked = candidates[uint64n(entropy, uint64(len(candidates)))]
	} else {
		r := uint64n(entropy, total)
		var cumulative uint64
		for i, w := range weights {
			cumulative += w
			if r < cumulative {
				picked = candidates[i]
				break
			}
		}
	}

	e.remember(picked)
	return picked, true
}

// score computes the policy-weighted base score for one candidate.
func (e *DecisionEngine) score(id NeighborID, metrics MetricView, policy PolicyConstraints) uint64 {
	latency, bandwidth := TagMedium, TagMedium
	if metrics != nil {
		latency = metrics.LatencyOf(id)
		bandwidth = metrics.BandwidthOf(id)
	}

	score := uint64(policy.LatencyWeight)*latencyScore(latency) +
		uint64(policy.BandwidthWeight)*bandwidthScore(bandwidth)

	if policy.Diversity == DiversityHigh && e.sharesRecentPrefix(id) {
		score /= 2
	}
	return score
}

func latencyScore(t Tag) uint64 {
	switch t {
	case TagLow:
		return 3
	case TagHigh:
		return 1
	default:
		return 2
	}
}

func bandwidthScore(t Tag) uint64 {
	switch t {
	case TagHigh:
		return 3
	case TagLow:
		return 1
	default:
		return 2
	}
}

func (e *DecisionEngine) sharesRecentPrefix(id NeighborID) bool {
	for _, r := range e.recent {
		if sharedPrefix(string(id), string(r)) >= diversityPrefixLen {
			return true
		}
	}
	return false
}

func sharedPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func (e *DecisionEngine) remember(id NeighborID) {
	e.recent = append(e.recent, id)
	if len(e.recent) > recentWindow {
		e.recent = e.recent[len(e.recent)-recentWindow:]
	}
}

// ResetHistory clears the diversity window, e.g. when a new circuit build
// starts.
func (e *DecisionEngine) ResetHistory() {
	e.recent = e.recent[:0]
}
