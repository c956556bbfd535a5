package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/pkg/identity"
	"github.com/taior/taior-go/pkg/packet"
)

// maxRelayDatagram bounds the UDP envelope size.
const maxRelayDatagram = 64 * 1024

// RelayEnvelope is the JSON datagram the UDP relay fallback exchanges.
// Registration uses an empty destination.
type RelayEnvelope struct {
	AuthToken   string `json:"auth_token"`
	Source      string `json:"source"`
	Destination string `json:"destination,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
	Packet      []byte `json:"packet,omitempty"`
}

// RelayClient sends packets through a UDP relay when direct connectivity
// is unavailable.
type RelayClient struct {
	relayAddr *net.UDPAddr
	address   identity.Address
	auth      RelayAuth
	clk       clock.Clock
	log       *logging.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

// NewRelayClient creates a client for the given relay address.
func NewRelayClient(relayAddr string, addr identity.Address, clk clock.Clock, log *logging.Logger) (*RelayClient, error) {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logging.Nop()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve relay %s: %w", relayAddr, err)
	}

	return &RelayClient{
		relayAddr: udpAddr,
		address:   addr,
		auth:      GenerateAuth(addr, clk),
		clk:       clk,
		log:       log.WithComponent("relay-client"),
	}, nil
}

// Connect binds a local socket and registers with the relay.
func (c *RelayClient) Connect(ctx context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return fmt.Errorf("transport: bind: %w", err)
	}
	c.conn = conn

	// Registration datagram: no destination, no packet.
	return c.writeEnvelope(RelayEnvelope{
		AuthToken: c.auth.Token,
		Source:    c.address.String(),
	})
}

// Send relays one packet toward dest.
func (c *RelayClient) Send(ctx context.Context, pkt *packet.Packet, dest string) error {
	return c.SendSeq(ctx, pkt, dest, 0)
}

// SendSeq relays a packet with its onion sequence number.
func (c *RelayClient) SendSeq(_ context.Context, pkt *packet.Packet, dest string, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	if !c.auth.Valid(c.clk) {
		c.auth = GenerateAuth(c.address, c.clk)
	}

	wire, err := pkt.MarshalBinary()
	if err != nil {
		return fmt.Errorf("transport: encode packet: %w", err)
	}

	return c.writeEnvelope(RelayEnvelope{
		AuthToken:   c.auth.Token,
		Source:      c.address.String(),
		Destination: dest,
		Seq:         seq,
		Packet:      wire,
	})
}

// Receive blocks for the next relayed packet.
func (c *RelayClient) Receive(ctx context.Context) (*packet.Packet, string, error) {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, "", ErrClosed
	}
	if conn == nil {
		return nil, "", ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	buf := make([]byte, maxRelayDatagram)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, "", fmt.Errorf("transport: receive: %w", err)
	}

	var env RelayEnvelope
	if err := json.Unmarshal(buf[:n], &env); err != nil {
		return nil, "", fmt.Errorf("transport: decode envelope: %w", err)
	}

	var pkt packet.Packet
	if err := pkt.UnmarshalBinary(env.Packet); err != nil {
		return nil, "", fmt.Errorf("transport: decode packet: %w", err)
	}
	return &pkt, env.Source, nil
}

// Close shuts the client down.
func (c *RelayClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *RelayClient) writeEnvelope(env RelayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}
	if _, err := c.conn.WriteToUDP(data, c.relayAddr); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}
