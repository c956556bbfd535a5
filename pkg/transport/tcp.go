package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/protocol"
	"github.com/taior/taior-go/pkg/identity"
	"github.com/taior/taior-go/pkg/packet"
)

const tcpDialTimeout = 10 * time.Second

// TCPTransport frames packets over a direct TCP stream to one peer:
// control frames carry the JSON register handshake, packet frames carry
// the onion sequence and peer address alongside the packet wire bytes.
type TCPTransport struct {
	address identity.Address
	clk     clock.Clock
	log     *logging.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// NewTCPTransport creates a transport bound to a session address.
func NewTCPTransport(addr identity.Address, clk clock.Clock, log *logging.Logger) *TCPTransport {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &TCPTransport{
		address: addr,
		clk:     clk,
		log:     log.WithComponent("tcp-transport"),
	}
}

// Connect dials the peer and sends the register handshake.
func (t *TCPTransport) Connect(ctx context.Context, addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	dialer := net.Dialer{Timeout: tcpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	auth := GenerateAuth(t.address, t.clk)
	msg, err := protocol.NewMessage(protocol.MsgTypeRegister, protocol.RegisterRequest{
		Address:   t.address.String(),
		AuthToken: auth.Token,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: build register: %w", err)
	}
	frame, err := protocol.NewControlFrame(msg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: frame register: %w", err)
	}
	if _, err := conn.Write(frame.Encode()); err != nil {
		conn.Close()
		return fmt.Errorf("transport: register: %w", err)
	}

	t.conn = conn
	t.log.WithPeer(addr).Debug().Msg("Connected")
	return nil
}

// Send forwards one packet toward dest.
func (t *TCPTransport) Send(ctx context.Context, pkt *packet.Packet, dest string) error {
	return t.SendSeq(ctx, pkt, dest, 0)
}

// SendSeq forwards a packet with the onion sequence the peer needs to
// derive its layer nonce; seq and destination travel in the frame header,
// never inside the (opaque) packet.
func (t *TCPTransport) SendSeq(ctx context.Context, pkt *packet.Packet, dest string, seq uint64) error {
	wire, err := pkt.MarshalBinary()
	if err != nil {
		return fmt.Errorf("transport: encode packet: %w", err)
	}

	frame, err := protocol.NewPacketFrame(protocol.PacketFrame{
		Seq:  seq,
		Peer: dest,
		Data: wire,
	})
	if err != nil {
		return fmt.Errorf("transport: frame packet: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn == nil {
		return ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	} else {
		t.conn.SetWriteDeadline(time.Now().Add(tcpDialTimeout))
	}
	if _, err := t.conn.Write(frame.Encode()); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks for the next inbound packet frame. Control frames other
// than pings are logged and skipped; pings are answered in place.
func (t *TCPTransport) Receive(ctx context.Context) (*packet.Packet, string, error) {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return nil, "", ErrClosed
	}
	if conn == nil {
		return nil, "", ErrNotConnected
	}

	for {
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetReadDeadline(deadline)
		}

		frame, err := protocol.DecodeFrame(conn)
		if err != nil {
			return nil, "", fmt.Errorf("transport: receive: %w", err)
		}

		switch frame.Type {
		case protocol.FramePacket:
			pf, err := frame.Packet()
			if err != nil {
				t.log.Warn().Err(err).Msg("Malformed packet frame")
				continue
			}

			var pkt packet.Packet
			if err := pkt.UnmarshalBinary(pf.Data); err != nil {
				t.log.Warn().Err(err).Msg("Malformed packet in frame")
				continue
			}
			return &pkt, pf.Peer, nil

		case protocol.FrameControl:
			msg, err := frame.Message()
			if err != nil {
				t.log.Warn().Err(err).Msg("Malformed control frame")
				continue
			}
			t.handleControl(msg)

		default:
			t.log.Warn().Uint8("type", frame.Type).Msg("Unknown frame type")
		}
	}
}

func (t *TCPTransport) handleControl(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgTypePing:
		pong, err := protocol.NewMessage(protocol.MsgTypePong, nil)
		if err != nil {
			return
		}
		frame, err := protocol.NewControlFrame(pong)
		if err != nil {
			return
		}

		t.mu.Lock()
		if t.conn != nil && !t.closed {
			t.conn.SetWriteDeadline(time.Now().Add(tcpDialTimeout))
			t.conn.Write(frame.Encode())
		}
		t.mu.Unlock()

	case protocol.MsgTypeError:
		var errResp protocol.ErrorResponse
		if err := msg.ParsePayload(&errResp); err == nil {
			t.log.Warn().
				Str("code", errResp.Code).
				Str("message", errResp.Message).
				Msg("Peer error")
		}
	}
}

// Close shuts the transport down.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
