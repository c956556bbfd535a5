package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/taior/taior-go/pkg/identity"
)

// Stream transports frame the relay protocol as length-prefixed binary
// frames. Control frames carry the JSON message envelope; packet frames
// carry the onion sequence, the fixed-length peer address and the packet
// wire bytes. The sequence a relay needs for its layer nonce thus rides
// the frame header, never the opaque packet itself.
const (
	FrameControl byte = 0x01
	FramePacket  byte = 0x02
)

const (
	frameHeaderSize = 5

	// packetHeaderSize is the onion sequence plus the peer address.
	packetHeaderSize = 8 + identity.AddressLen

	// MaxFramePayload bounds one frame; onion packets are small.
	MaxFramePayload = 1 << 20
)

var (
	// ErrFrameTooLarge is returned when a frame exceeds the payload bound
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrInvalidFrame is returned when a frame is malformed
	ErrInvalidFrame = errors.New("protocol: invalid frame")
)

// Frame is one length-prefixed unit on a stream transport
type Frame struct {
	Type    byte
	Payload []byte
}

// PacketFrame is the decoded form of a packet frame. Peer is the
// destination address on the way to a relay and the source address on
// the way back; the slot is fixed-width so frame sizes stay uniform.
type PacketFrame struct {
	Seq  uint64
	Peer string
	Data []byte
}

// NewControlFrame wraps a message envelope in a control frame
func NewControlFrame(msg *Message) (*Frame, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: FrameControl, Payload: data}, nil
}

// NewPacketFrame builds a packet frame; the peer must be a full taior
// address so every packet frame header has the same shape.
func NewPacketFrame(pf PacketFrame) (*Frame, error) {
	if len(pf.Peer) != identity.AddressLen {
		return nil, fmt.Errorf("%w: peer address length %d, want %d", ErrInvalidFrame, len(pf.Peer), identity.AddressLen)
	}

	payload := make([]byte, packetHeaderSize+len(pf.Data))
	binary.BigEndian.PutUint64(payload[:8], pf.Seq)
	copy(payload[8:packetHeaderSize], pf.Peer)
	copy(payload[packetHeaderSize:], pf.Data)
	return &Frame{Type: FramePacket, Payload: payload}, nil
}

// Message parses a control frame's payload
func (f *Frame) Message() (*Message, error) {
	if f.Type != FrameControl {
		return nil, ErrInvalidFrame
	}
	var msg Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Packet parses a packet frame's payload
func (f *Frame) Packet() (*PacketFrame, error) {
	if f.Type != FramePacket || len(f.Payload) < packetHeaderSize {
		return nil, ErrInvalidFrame
	}
	return &PacketFrame{
		Seq:  binary.BigEndian.Uint64(f.Payload[:8]),
		Peer: string(f.Payload[8:packetHeaderSize]),
		Data: f.Payload[packetHeaderSize:],
	}, nil
}

// Encode serializes the frame to bytes
func (f *Frame) Encode() []byte {
	buf := make([]byte, frameHeaderSize+len(f.Payload))
	buf[0] = f.Type
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(f.Payload)))
	copy(buf[5:], f.Payload)
	return buf
}

// DecodeFrame reads one frame from a stream
func DecodeFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[1:5])
	if length > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{Type: header[0], Payload: payload}, nil
}

// DecodeFrameBytes decodes a frame from a complete buffer, e.g. one
// websocket binary message.
func DecodeFrameBytes(data []byte) (*Frame, error) {
	if len(data) < frameHeaderSize {
		return nil, ErrInvalidFrame
	}

	length := binary.BigEndian.Uint32(data[1:5])
	if length > MaxFramePayload {
		return nil, ErrFrameTooLarge
	}
	if uint32(len(data)-frameHeaderSize) != length {
		return nil, ErrInvalidFrame
	}

	return &Frame{Type: data[0], Payload: data[frameHeaderSize:]}, nil
}
