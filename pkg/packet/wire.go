package packet

import (
	"encoding/binary"
	"errors"
	"io"
)

// Wire format for direct single-hop delivery:
//
//	[ 4 bytes: ciphertext length, big endian ]
//	[ ciphertext ]
//	[ 32 bytes: IKM ]
//
// TTL and the cover flag are deliberately absent; relays must not be able
// to tell cover packets from real ones.

const wireHeaderSize = 4

// MaxWireCiphertext bounds the ciphertext length accepted when decoding.
const MaxWireCiphertext = 1 << 20

var (
	// ErrWireTruncated is returned when wire bytes are shorter than the
	// framing demands.
	ErrWireTruncated = errors.New("packet: truncated wire data")

	// ErrWireTooLarge is returned when the framed length exceeds the
	// decoder limit.
	ErrWireTooLarge = errors.New("packet: wire ciphertext too large")
)

// MarshalBinary encodes the packet in its self-describing wire form.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if len(p.IKM) < IKMSize {
		return nil, ErrIKMTooShort
	}

	buf := make([]byte, wireHeaderSize+len(p.EncryptedPayload)+IKMSize)
	binary.BigEndian.PutUint32(buf[:wireHeaderSize], uint32(len(p.EncryptedPayload)))
	n := copy(buf[wireHeaderSize:], p.EncryptedPayload)
	copy(buf[wireHeaderSize+n:], p.IKM[:IKMSize])
	return buf, nil
}

// UnmarshalBinary decodes a packet from its wire form. TTL defaults to 1
// and the cover flag to false; neither travels on the wire.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) < wireHeaderSize {
		return ErrWireTruncated
	}

	ctLen := binary.BigEndian.Uint32(data[:wireHeaderSize])
	if ctLen > MaxWireCiphertext {
		return ErrWireTooLarge
	}
	if uint32(len(data)) < wireHeaderSize+ctLen+IKMSize {
		return ErrWireTruncated
	}

	body := data[wireHeaderSize:]
	p.EncryptedPayload = append([]byte(nil), body[:ctLen]...)
	p.IKM = append([]byte(nil), body[ctLen:ctLen+IKMSize]...)
	p.TTL = 1
	p.IsCover = false
	return nil
}

// ReadFrom decodes one framed packet from a stream.
func ReadFrom(r io.Reader) (*Packet, error) {
	header := make([]byte, wireHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	ctLen := binary.BigEndian.Uint32(header)
	if ctLen > MaxWireCiphertext {
		return nil, ErrWireTooLarge
	}

	body := make([]byte, int(ctLen)+IKMSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, ErrWireTruncated
	}

	return &Packet{
		EncryptedPayload: body[:ctLen],
		IKM:              body[ctLen:],
		TTL:              1,
	}, nil
}
