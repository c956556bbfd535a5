// Package transport provides the wire transports a taior session sends
// packets through: a WebSocket transport for relay-mediated delivery and a
// UDP relay fallback for NAT-restricted peers, plus STUN-based discovery
// of the public address.
package transport

import (
	"context"
	"errors"

	"github.com/taior/taior-go/pkg/packet"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned when Send or Receive is called before
	// Connect succeeds.
	ErrNotConnected = errors.New("transport: not connected")
)

// Transport moves packet envelopes between peers. The session core never
// blocks on the network itself; all suspension lives behind this
// interface.
type Transport interface {
	// Connect establishes the transport toward a peer or relay endpoint.
	Connect(ctx context.Context, addr string) error

	// Send delivers one packet to the destination taior address.
	Send(ctx context.Context, pkt *packet.Packet, dest string) error

	// Receive blocks for the next inbound packet and its source address.
	Receive(ctx context.Context) (*packet.Packet, string, error)

	// Close tears the transport down.
	Close() error
}
