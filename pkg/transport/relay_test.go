package transport

import (
	"context"
	"testing"
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/pkg/identity"
	"github.com/taior/taior-go/pkg/packet"
)

func newTestServer(t *testing.T) *RelayServer {
	t.Helper()
	cfg := DefaultRelayServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	s := NewRelayServer(cfg, nil, nil, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func newTestClient(t *testing.T, server *RelayServer) (*RelayClient, identity.Address) {
	t.Helper()
	id, err := identity.New()
	if err != nil {
		t.Fatalf("identity.New failed: %v", err)
	}
	c, err := NewRelayClient(server.LocalAddr().String(), id.Address(), nil, nil)
	if err != nil {
		t.Fatalf("NewRelayClient failed: %v", err)
	}
	if err := c.Connect(context.Background(), ""); err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, id.Address()
}

func waitForClients(t *testing.T, s *RelayServer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.ClientCount() >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never saw %d clients (have %d)", want, s.ClientCount())
}

func TestRelayForwardsBetweenClients(t *testing.T) {
	server := newTestServer(t)

	sender, _ := newTestClient(t, server)
	receiver, receiverAddr := newTestClient(t, server)
	waitForClients(t, server, 2)

	pkt, err := packet.New([]byte("via relay"), 1, 64, false)
	if err != nil {
		t.Fatalf("packet.New failed: %v", err)
	}

	if err := sender.SendSeq(context.Background(), pkt, receiverAddr.String(), 7); err != nil {
		t.Fatalf("SendSeq failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, source, err := receiver.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if source == "" {
		t.Error("source address missing")
	}

	plain, err := got.DecryptWithIKM()
	if err != nil {
		t.Fatalf("relayed packet failed to decrypt: %v", err)
	}
	if string(plain[:9]) != "via relay" {
		t.Error("relayed payload mismatch")
	}
}

func TestRelayDropsUnknownDestination(t *testing.T) {
	server := newTestServer(t)
	sender, _ := newTestClient(t, server)
	waitForClients(t, server, 1)

	pkt, err := packet.New([]byte("nowhere"), 1, 32, false)
	if err != nil {
		t.Fatalf("packet.New failed: %v", err)
	}

	// Unknown destination: the relay silently drops.
	if err := sender.Send(context.Background(), pkt, "taior://deadbeef"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestRelayServerEvictsStaleClients(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	cfg := DefaultRelayServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ClientTTL = time.Minute

	server := NewRelayServer(cfg, clk, nil, nil)
	if err := server.Start(); err != nil {
		t.Fatalf("server start failed: %v", err)
	}
	defer server.Stop()

	_, _ = newTestClient(t, server)
	waitForClients(t, server, 1)

	clk.Advance(2 * time.Minute)
	server.evictStale()

	if server.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0 after eviction", server.ClientCount())
	}
}

func TestRelayClientClosedErrors(t *testing.T) {
	server := newTestServer(t)
	client, addr := newTestClient(t, server)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	pkt, err := packet.New([]byte("late"), 1, 32, false)
	if err != nil {
		t.Fatalf("packet.New failed: %v", err)
	}
	if err := client.Send(context.Background(), pkt, addr.String()); err == nil {
		t.Error("expected error sending on closed client")
	}
}

func TestAuthTokenLifecycle(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	id, err := identity.New()
	if err != nil {
		t.Fatalf("identity.New failed: %v", err)
	}

	auth := GenerateAuth(id.Address(), clk)
	if len(auth.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(auth.Token))
	}
	if !auth.Valid(clk) {
		t.Error("fresh token invalid")
	}

	clk.Advance(2 * time.Hour)
	if auth.Valid(clk) {
		t.Error("token valid past expiry")
	}
}

func TestAuthTokensDifferPerAddress(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	a, err := identity.New()
	if err != nil {
		t.Fatal(err)
	}
	b, err := identity.New()
	if err != nil {
		t.Fatal(err)
	}

	if GenerateAuth(a.Address(), clk).Token == GenerateAuth(b.Address(), clk).Token {
		t.Error("two addresses produced the same auth token")
	}
}
