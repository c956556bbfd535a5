package taior

import (
	"testing"

	"github.com/taior/taior-go/pkg/aorp"
)

func TestRouterEmptyNeighbors(t *testing.T) {
	r := NewRouter()
	if _, ok := r.DecideNextHop(nil, FastConfig()); ok {
		t.Error("expected no decision for empty neighbor list")
	}
}

func TestRouterPicksFromNeighbors(t *testing.T) {
	r := NewRouter()
	neighbors := []string{"n1", "n2", "n3"}

	hop, ok := r.DecideNextHop(neighbors, FastConfig())
	if !ok {
		t.Fatal("expected a decision")
	}

	found := false
	for _, n := range neighbors {
		if hop == n {
			found = true
		}
	}
	if !found {
		t.Errorf("picked %q which is not a neighbor", hop)
	}
}

func TestDiversityForHops(t *testing.T) {
	tests := []struct {
		hops uint8
		want aorp.DiversityLevel
	}{
		{1, aorp.DiversityLow},
		{2, aorp.DiversityMedium},
		{3, aorp.DiversityMedium},
		{4, aorp.DiversityHigh},
		{5, aorp.DiversityHigh},
	}

	for _, tt := range tests {
		if got := diversityForHops(tt.hops); got != tt.want {
			t.Errorf("diversityForHops(%d) = %v, want %v", tt.hops, got, tt.want)
		}
	}
}
