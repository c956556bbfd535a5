package taior

import (
	"sort"
	"testing"
)

func TestDiscoveryAddRemove(t *testing.T) {
	d := NewDiscovery()
	if d.Count() != 0 {
		t.Errorf("Count = %d, want 0", d.Count())
	}

	d.AddNode("n1")
	d.AddNode("n2")
	d.AddNode("n1") // duplicate
	d.AddNode("")   // ignored

	if d.Count() != 2 {
		t.Errorf("Count = %d, want 2", d.Count())
	}

	d.RemoveNode("n1")
	if d.Count() != 1 {
		t.Errorf("Count after remove = %d, want 1", d.Count())
	}
}

func TestDiscoveryNeighborsSnapshot(t *testing.T) {
	d := DiscoveryWithBootstrap([]string{"n3", "n1", "n2"})

	neighbors := d.Neighbors()
	sort.Strings(neighbors)
	if len(neighbors) != 3 {
		t.Fatalf("len = %d, want 3", len(neighbors))
	}
	for i, want := range []string{"n1", "n2", "n3"} {
		if neighbors[i] != want {
			t.Errorf("neighbors[%d] = %q, want %q", i, neighbors[i], want)
		}
	}

	// Mutating the snapshot does not affect the set.
	neighbors[0] = "mutated"
	if d.Count() != 3 {
		t.Error("snapshot mutation leaked into discovery set")
	}
}
