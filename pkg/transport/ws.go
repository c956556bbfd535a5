package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taior/taior-go/internal/clock"
	"github.com/taior/taior-go/internal/logging"
	"github.com/taior/taior-go/internal/protocol"
	"github.com/taior/taior-go/pkg/identity"
	"github.com/taior/taior-go/pkg/packet"
)

const (
	wsWriteDeadline = 30 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 30 * time.Second
)

// WSTransport speaks the relay control protocol over a WebSocket
// connection. It registers the session address on connect and exchanges
// FORWARD/DELIVER messages afterwards.
type WSTransport struct {
	address identity.Address
	clk     clock.Clock
	log     *logging.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	inbound chan inboundPacket
	readErr error
	readWg  sync.WaitGroup
}

type inboundPacket struct {
	pkt    *packet.Packet
	source string
}

// NewWSTransport creates a transport bound to a session address.
func NewWSTransport(addr identity.Address, clk clock.Clock, log *logging.Logger) *WSTransport {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &WSTransport{
		address: addr,
		clk:     clk,
		log:     log.WithComponent("ws-transport"),
		inbound: make(chan inboundPacket, 64),
	}
}

// Connect dials the relay endpoint and registers this client's address.
func (t *WSTransport) Connect(ctx context.Context, endpoint string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", endpoint, err)
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

	conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return fmt.Errorf("transport: register: %w", err)
	}

	t.conn = conn
	t.readWg.Add(1)
	go t.readLoop(conn)
	go t.pingLoop(conn)

	t.log.Debug().Str("endpoint", endpoint).Msg("Connected to relay")
	return nil
}

// Send forwards one packet toward dest through the relay.
func (t *WSTransport) Send(ctx context.Context, pkt *packet.Packet, dest string) error {
	return t.SendSeq(ctx, pkt, dest, 0)
}

// SendSeq forwards a packet with the onion sequence number relays need to
// derive the layer nonce.
func (t *WSTransport) SendSeq(ctx context.Context, pkt *packet.Packet, dest string, seq uint64) error {
	wire, err := pkt.MarshalBinary()
	if err != nil {
		return fmt.Errorf("transport: encode packet: %w", err)
	}

	msg, err := protocol.NewMessage(protocol.MsgTypeForward, protocol.ForwardRequest{
		Destination: dest,
		Seq:         seq,
		Packet:      wire,
	})
	if err != nil {
		return fmt.Errorf("transport: build forward: %w", err)
	}

	// The websocket permits one writer at a time; the mutex also guards
	// the ping and pong paths.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(wsWriteDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Receive blocks for the next delivered packet.
func (t *WSTransport) Receive(ctx context.Context) (*packet.Packet, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case in, ok := <-t.inbound:
		if !ok {
			t.mu.Lock()
			err := t.readErr
			t.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return nil, "", err
		}
		return in.pkt, in.source, nil
	}
}

// Close shuts the transport down.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
		t.readWg.Wait()
	}
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.readWg.Done()
	defer close(t.inbound)

	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.mu.Lock()
			if !t.closed {
				t.readErr = err
			}
			t.mu.Unlock()
			return
		}

		switch msg.Type {
		case protocol.MsgTypeDeliver:
			var deliver protocol.DeliverNotification
			if err := msg.ParsePayload(&deliver); err != nil {
				t.log.Warn().Err(err).Msg("Malformed deliver payload")
				continue
			}

			var pkt packet.Packet
			if err := pkt.UnmarshalBinary(deliver.Packet); err != nil {
				t.log.Warn().Err(err).Msg("Malformed packet in deliver")
				continue
			}
			t.inbound <- inboundPacket{pkt: &pkt, source: deliver.Source}

		case protocol.MsgTypeError:
			var errResp protocol.ErrorResponse
			if err := msg.ParsePayload(&errResp); err == nil {
				t.log.Warn().
					Str("code", errResp.Code).
					Str("message", errResp.Message).
					Msg("Relay error")
			}

		case protocol.MsgTypePing:
			// Control pings answered at the protocol level.
			pong, err := protocol.NewMessage(protocol.MsgTypePong, nil)
			if err == nil {
				t.mu.Lock()
				conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
				conn.WriteJSON(pong)
				t.mu.Unlock()
			}
		}
	}
}

func (t *WSTransport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		if t.closed || t.conn != conn {
			t.mu.Unlock()
			return
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		t.mu.Unlock()
		if err != nil {
			return
		}
	}
}
