package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/taior/taior-go/pkg/identity"
)

func framePeer(seed string) string {
	return "taior://" + strings.Repeat(seed, 64/len(seed))
}

func TestControlFrameRoundTrip(t *testing.T) {
	msg, err := NewMessage(MsgTypeRegister, RegisterRequest{
		Address:   framePeer("cd"),
		AuthToken: "token",
	})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	frame, err := NewControlFrame(msg)
	if err != nil {
		t.Fatalf("NewControlFrame failed: %v", err)
	}

	decoded, err := DecodeFrame(bytes.NewReader(frame.Encode()))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.Type != FrameControl {
		t.Errorf("type = %d, want control", decoded.Type)
	}

	back, err := decoded.Message()
	if err != nil {
		t.Fatalf("Message failed: %v", err)
	}
	if back.Type != MsgTypeRegister {
		t.Errorf("message type = %q, want REGISTER", back.Type)
	}
}

func TestPacketFrameRoundTrip(t *testing.T) {
	peer := framePeer("ab")
	original := PacketFrame{
		Seq:  42,
		Peer: peer,
		Data: []byte{0xde, 0xad, 0xbe, 0xef},
	}

	frame, err := NewPacketFrame(original)
	if err != nil {
		t.Fatalf("NewPacketFrame failed: %v", err)
	}

	decoded, err := DecodeFrame(bytes.NewReader(frame.Encode()))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	pf, err := decoded.Packet()
	if err != nil {
		t.Fatalf("Packet failed: %v", err)
	}
	if pf.Seq != 42 {
		t.Errorf("seq = %d, want 42", pf.Seq)
	}
	if pf.Peer != peer {
		t.Errorf("peer = %q, want original peer address", pf.Peer)
	}
	if !bytes.Equal(pf.Data, original.Data) {
		t.Error("packet data lost in round trip")
	}
}

func TestPacketFrameEmptyData(t *testing.T) {
	frame, err := NewPacketFrame(PacketFrame{Seq: 1, Peer: framePeer("ef")})
	if err != nil {
		t.Fatalf("NewPacketFrame failed: %v", err)
	}

	pf, err := frame.Packet()
	if err != nil {
		t.Fatalf("Packet failed: %v", err)
	}
	if len(pf.Data) != 0 {
		t.Errorf("data length = %d, want 0", len(pf.Data))
	}
}

func TestNewPacketFrameRejectsBadPeer(t *testing.T) {
	tests := []struct {
		name string
		peer string
	}{
		{"empty", ""},
		{"short", "taior://abcd"},
		{"overlong", framePeer("ab") + "ff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPacketFrame(PacketFrame{Seq: 1, Peer: tt.peer, Data: []byte{1}})
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("got %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestPacketOnControlFrame(t *testing.T) {
	msg, err := NewMessage(MsgTypePing, nil)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	frame, err := NewControlFrame(msg)
	if err != nil {
		t.Fatalf("NewControlFrame failed: %v", err)
	}

	if _, err := frame.Packet(); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Packet on control frame: got %v, want ErrInvalidFrame", err)
	}
	if _, err := frame.Message(); err != nil {
		t.Errorf("Message on control frame failed: %v", err)
	}
}

func TestPacketFrameTruncatedPayload(t *testing.T) {
	// A packet frame whose payload is shorter than seq + address cannot
	// be parsed.
	f := &Frame{Type: FramePacket, Payload: make([]byte, 20)}
	if _, err := f.Packet(); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("got %v, want ErrInvalidFrame", err)
	}
}

func TestDecodeFrameOversize(t *testing.T) {
	buf := make([]byte, frameHeaderSize)
	buf[0] = FramePacket
	buf[1], buf[2], buf[3], buf[4] = 0xff, 0xff, 0xff, 0xff

	if _, err := DecodeFrame(bytes.NewReader(buf)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeFrameTruncatedStream(t *testing.T) {
	frame, err := NewPacketFrame(PacketFrame{Seq: 7, Peer: framePeer("aa"), Data: make([]byte, 100)})
	if err != nil {
		t.Fatalf("NewPacketFrame failed: %v", err)
	}
	encoded := frame.Encode()

	if _, err := DecodeFrame(bytes.NewReader(encoded[:20])); err == nil {
		t.Error("expected error for truncated stream")
	}
}

func TestDecodeFrameBytes(t *testing.T) {
	frame, err := NewPacketFrame(PacketFrame{Seq: 9, Peer: framePeer("bc"), Data: []byte{1, 2}})
	if err != nil {
		t.Fatalf("NewPacketFrame failed: %v", err)
	}
	encoded := frame.Encode()

	decoded, err := DecodeFrameBytes(encoded)
	if err != nil {
		t.Fatalf("DecodeFrameBytes failed: %v", err)
	}
	pf, err := decoded.Packet()
	if err != nil {
		t.Fatalf("Packet failed: %v", err)
	}
	if pf.Seq != 9 {
		t.Errorf("seq = %d, want 9", pf.Seq)
	}

	// Length mismatch between header and buffer is rejected.
	if _, err := DecodeFrameBytes(encoded[:len(encoded)-1]); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("short buffer: got %v, want ErrInvalidFrame", err)
	}
	if _, err := DecodeFrameBytes([]byte{FramePacket}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("header-only buffer: got %v, want ErrInvalidFrame", err)
	}
}

func TestPacketHeaderSizeMatchesAddressLen(t *testing.T) {
	if packetHeaderSize != 8+identity.AddressLen {
		t.Errorf("packetHeaderSize = %d, want %d", packetHeaderSize, 8+identity.AddressLen)
	}
}
