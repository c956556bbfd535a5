// Package aorp implements the adaptive onion routing policy: weighted,
// policy-constrained, entropy-driven selection of a next hop from a set of
// candidate neighbors.
package aorp

import "sort"

// NeighborID identifies a candidate neighbor.
type NeighborID string

// NeighborSet is the deduplicated set of candidates for one decision.
// Iteration order is sorted so that candidate truncation is stable.
type NeighborSet struct {
	ids []NeighborID
}

// NewNeighborSet builds a set from peer identifiers, dropping duplicates
// and empty ids.
func NewNeighborSet(peers ...string) NeighborSet {
	seen := make(map[string]struct{}, len(peers))
	ids := make([]NeighborID, 0, len(peers))
	for _, p := range peers {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		ids = append(ids, NeighborID(p))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return NeighborSet{ids: ids}
}

// IDs returns the members in sorted order.
func (s NeighborSet) IDs() []NeighborID { return s.ids }

// Len returns the number of members.
func (s NeighborSet) Len() int { return len(s.ids) }

// Empty reports whether the set has no members.
func (s NeighborSet) Empty() bool { return len(s.ids) == 0 }

// Tag buckets a per-neighbor metric.
type Tag int

const (
	TagLow Tag = iota
	TagMedium
	TagHigh
)

func (t Tag) String() string {
	switch t {
	case TagLow:
		return "low"
	case TagMedium:
		return "medium"
	case TagHigh:
		return "high"
	default:
		return "unknown"
	}
}

// DiversityLevel controls how aggressively the engine avoids re-selecting
// related neighbors.
type DiversityLevel int

const (
	// DiversityLow applies no penalty.
	DiversityLow DiversityLevel = iota

	// DiversityMedium forbids exact repeats of recent selections.
	DiversityMedium

	// DiversityHigh additionally penalises neighbors sharing an id prefix
	// with recent selections.
	DiversityHigh
)

func (d DiversityLevel) String() string {
	switch d {
	case DiversityLow:
		return "low"
	case DiversityMedium:
		return "medium"
	case DiversityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// PolicyConstraints bounds one routing decision.
type PolicyConstraints struct {
	Diversity       DiversityLevel
	LatencyWeight   uint32
	BandwidthWeight uint32
	AvoidLoops      bool
	MaxHops         uint8

	// Exclude lists neighbors the caller has already used; honored only
	// when AvoidLoops is set.
	Exclude []NeighborID
}

// PolicyBuilder assembles PolicyConstraints.
type PolicyBuilder struct {
	p PolicyConstraints
}

// NewPolicy starts a builder with neutral weights.
func NewPolicy() *PolicyBuilder {
	return &PolicyBuilder{p: PolicyConstraints{
		LatencyWeight:   1,
		BandwidthWeight: 1,
	}}
}

// RequireDiversity sets the diversity level.
func (b *PolicyBuilder) RequireDiversity(d DiversityLevel) *PolicyBuilder {
	b.p.Diversity = d
	return b
}

// LatencyWeight sets the latency scoring weight.
func (b *PolicyBuilder) LatencyWeight(w uint32) *PolicyBuilder {
	b.p.LatencyWeight = w
	return b
}

// BandwidthWeight sets the bandwidth scoring weight.
func (b *PolicyBuilder) BandwidthWeight(w uint32) *PolicyBuilder {
	b.p.BandwidthWeight = w
	return b
}

// AvoidLoops enables the caller-supplied exclusion list.
func (b *PolicyBuilder) AvoidLoops(v bool) *PolicyBuilder {
	b.p.AvoidLoops = v
	return b
}

// MaxHops records the remaining hop budget for this decision.
func (b *PolicyBuilder) MaxHops(n uint8) *PolicyBuilder {
	b.p.MaxHops = n
	return b
}

// Exclude appends neighbors to the exclusion list.
func (b *PolicyBuilder) Exclude(ids ...NeighborID) *PolicyBuilder {
	b.p.Exclude = append(b.p.Exclude, ids...)
	return b
}

// Build returns the assembled constraints.
func (b *PolicyBuilder) Build() PolicyConstraints { return b.p }

// DecisionConfig tunes the engine independent of any one decision.
type DecisionConfig struct {
	// MaxCandidates caps the candidate set after filtering; zero means
	// unlimited.
	MaxCandidates int
}
