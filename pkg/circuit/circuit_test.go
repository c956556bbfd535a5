package circuit

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/pkg/identity"
)

func testBuilder(t *testing.T, clk clock.Clock, poolSize int) *Builder {
	t.Helper()
	b := NewBuilder(1, 5, DefaultTTL, clk, nil)
	for i := 0; i < poolSize; i++ {
		id, err := identity.New()
		if err != nil {
			t.Fatalf("identity.New failed: %v", err)
		}
		b.AddNode(fmt.Sprintf("n%d", i+1), id.Address())
	}
	return b
}

func TestBuildDistinctNodes(t *testing.T) {
	b := testBuilder(t, nil, 4)

	circ, err := b.Build(4)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if circ.HopCount() != 4 {
		t.Errorf("HopCount = %d, want 4", circ.HopCount())
	}

	seen := make(map[identity.Address]bool)
	for _, n := range circ.Nodes {
		if seen[n.Address] {
			t.Errorf("address %q appears twice in circuit", n.Address)
		}
		seen[n.Address] = true

		if len(n.SharedKey) != KeySize {
			t.Errorf("shared key length = %d, want %d", len(n.SharedKey), KeySize)
		}
		if len(n.BaseNonce) != NonceSize {
			t.Errorf("base nonce length = %d, want %d", len(n.BaseNonce), NonceSize)
		}
	}
}

func TestBuildInsufficientNodes(t *testing.T) {
	b := testBuilder(t, nil, 2)

	_, err := b.Build(5)
	var insufficient *InsufficientNodesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientNodesError", err)
	}
	if insufficient.Need != 5 {
		t.Errorf("Need = %d, want 5", insufficient.Need)
	}
}

func TestBuildBelowMinHops(t *testing.T) {
	b := NewBuilder(2, 5, DefaultTTL, nil, nil)

	_, err := b.Build(1)
	var insufficient *InsufficientNodesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientNodesError", err)
	}
	if insufficient.Need != 2 {
		t.Errorf("Need = %d, want min hops 2", insufficient.Need)
	}
}

func TestBuildCapsAtMaxHops(t *testing.T) {
	b := testBuilder(t, nil, 6)

	circ, err := b.Build(10)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if circ.HopCount() != 5 {
		t.Errorf("HopCount = %d, want cap at 5", circ.HopCount())
	}
}

func TestBuildFreshKeysPerCircuit(t *testing.T) {
	b := testBuilder(t, nil, 3)

	c1, err := b.Build(3)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	c2, err := b.Build(3)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if c1.ID == c2.ID {
		t.Error("two circuits share an id")
	}
	for _, n1 := range c1.Nodes {
		for _, n2 := range c2.Nodes {
			if string(n1.SharedKey) == string(n2.SharedKey) {
				t.Error("hop key reused across circuits")
			}
		}
	}
}

func TestCircuitExpiry(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := testBuilder(t, clk, 2)

	circ, err := b.Build(2)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if circ.Expired(clk) {
		t.Error("fresh circuit reports expired")
	}

	clk.Advance(DefaultTTL)
	if circ.Expired(clk) {
		t.Error("circuit expired exactly at ttl; expiry is strictly past ttl")
	}

	clk.Advance(time.Second)
	if !circ.Expired(clk) {
		t.Error("circuit not expired past ttl")
	}
}

func TestPoolMaintenance(t *testing.T) {
	b := testBuilder(t, nil, 3)
	if b.PoolSize() != 3 {
		t.Errorf("PoolSize = %d, want 3", b.PoolSize())
	}

	b.RemoveNode("n2")
	if b.PoolSize() != 2 {
		t.Errorf("PoolSize after remove = %d, want 2", b.PoolSize())
	}

	_, err := b.Build(3)
	var insufficient *InsufficientNodesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("got %v, want InsufficientNodesError after pool shrink", err)
	}
}

func TestBuildSingleHop(t *testing.T) {
	b := testBuilder(t, nil, 1)
	circ, err := b.Build(1)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if circ.HopCount() != 1 {
		t.Errorf("HopCount = %d, want 1", circ.HopCount())
	}
}

func BenchmarkBuild(b *testing.B) {
	builder := NewBuilder(1, 5, DefaultTTL, nil, nil)
	for i := 0; i < 20; i++ {
		id, err := identity.New()
		if err != nil {
			b.Fatal(err)
		}
		builder.AddNode(fmt.Sprintf("n%d", i), id.Address())
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(4); err != nil {
			b.Fatal(err)
		}
	}
}
