package directory

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestDirectory(t *testing.T) (*Server, *Client) {
	t.Helper()
	srv := NewServer(ServerConfig{RegisterTTL: time.Hour}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, NewClient(ts.URL)
}

func testAddress(seed string) string {
	return "taior://" + strings.Repeat(seed, 64/len(seed))
}

func TestRegisterAndList(t *testing.T) {
	srv, client := newTestDirectory(t)

	err := client.Register(RelayInfo{
		Address:  testAddress("a"),
		Endpoint: "ws://relay-1.example:4700",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err = client.Register(RelayInfo{
		Address:  testAddress("b"),
		Endpoint: "ws://relay-2.example:4700",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if srv.RelayCount() != 2 {
		t.Errorf("RelayCount = %d, want 2", srv.RelayCount())
	}

	relays, err := client.ListRelays()
	if err != nil {
		t.Fatalf("ListRelays failed: %v", err)
	}
	if len(relays) != 2 {
		t.Fatalf("len(relays) = %d, want 2", len(relays))
	}
	// Sorted by address.
	if relays[0].Address != testAddress("a") {
		t.Errorf("relays[0] = %q, want the 'a' relay", relays[0].Address)
	}
	if relays[0].RegisteredAt.IsZero() || relays[0].LastSeen.IsZero() {
		t.Error("registration timestamps not set")
	}
}

func TestReRegisterUpdatesEndpoint(t *testing.T) {
	srv, client := newTestDirectory(t)
	addr := testAddress("c")

	if err := client.Register(RelayInfo{Address: addr, Endpoint: "ws://old:1"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := client.Register(RelayInfo{Address: addr, Endpoint: "ws://new:2"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if srv.RelayCount() != 1 {
		t.Errorf("RelayCount = %d, want 1 after re-register", srv.RelayCount())
	}

	relays, err := client.ListRelays()
	if err != nil {
		t.Fatalf("ListRelays failed: %v", err)
	}
	if relays[0].Endpoint != "ws://new:2" {
		t.Errorf("endpoint = %q, want updated ws://new:2", relays[0].Endpoint)
	}
}

func TestRegisterRejectsIncomplete(t *testing.T) {
	_, client := newTestDirectory(t)

	if err := client.Register(RelayInfo{Endpoint: "ws://x:1"}); err == nil {
		t.Error("expected error for missing address")
	}
	if err := client.Register(RelayInfo{Address: testAddress("d")}); err == nil {
		t.Error("expected error for missing endpoint")
	}
}

func TestEvictStale(t *testing.T) {
	srv := NewServer(ServerConfig{RegisterTTL: time.Millisecond}, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := NewClient(ts.URL)

	if err := client.Register(RelayInfo{Address: testAddress("e"), Endpoint: "ws://e:1"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	srv.evictStale()

	if srv.RelayCount() != 0 {
		t.Errorf("RelayCount = %d, want 0 after eviction", srv.RelayCount())
	}
}
