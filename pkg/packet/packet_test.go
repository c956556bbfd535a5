package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestPadLengths(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		target  int
		wantLen int
	}{
		{"pad up", []byte("hello"), 64, 64},
		{"exact", make([]byte, 32), 32, 32},
		{"truncate", make([]byte, 100), 10, 10},
		{"zero target keeps payload", []byte("abc"), 0, 3},
		{"negative target keeps payload", []byte("abc"), -1, 3},
		{"empty payload", nil, 16, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pad(tt.payload, tt.target)
			if len(got) != tt.wantLen {
				t.Errorf("len(Pad) = %d, want %d", len(got), tt.wantLen)
			}
			n := len(tt.payload)
			if n > tt.wantLen {
				n = tt.wantLen
			}
			if !bytes.Equal(got[:n], tt.payload[:n]) {
				t.Error("padded buffer does not start with payload")
			}
		})
	}
}

func TestPadPreservesPayloadPrefix(t *testing.T) {
	payload := []byte("the quick brown fox")
	padded := Pad(payload, 512)
	if !bytes.HasPrefix(padded, payload) {
		t.Error("payload not a prefix of padded buffer")
	}
}

func TestNewAndDecryptRoundTrip(t *testing.T) {
	payload := []byte("hello")
	pkt, err := New(payload, 1, 64, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := len(pkt.EncryptedPayload); got != 64+TagSize {
		t.Errorf("ciphertext length = %d, want %d", got, 64+TagSize)
	}
	if len(pkt.IKM) != IKMSize {
		t.Errorf("ikm length = %d, want %d", len(pkt.IKM), IKMSize)
	}
	if pkt.TTL != 1 {
		t.Errorf("ttl = %d, want 1", pkt.TTL)
	}
	if pkt.IsCover {
		t.Error("is_cover = true, want false")
	}

	plain, err := pkt.DecryptWithIKM()
	if err != nil {
		t.Fatalf("DecryptWithIKM failed: %v", err)
	}
	if len(plain) != 64 {
		t.Errorf("plaintext length = %d, want 64", len(plain))
	}
	if !bytes.HasPrefix(plain, payload) {
		t.Error("decrypted buffer does not start with payload")
	}
}

func TestNewClampsZeroTTL(t *testing.T) {
	pkt, err := New([]byte("x"), 0, 16, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if pkt.TTL != 1 {
		t.Errorf("ttl = %d, want clamp to 1", pkt.TTL)
	}
}

func TestDecryptRejectsCorruptedCiphertext(t *testing.T) {
	pkt, err := New([]byte("payload"), 2, 64, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pkt.EncryptedPayload[0] ^= 0xff
	if _, err := pkt.DecryptWithIKM(); !errors.Is(err, ErrDecrypt) {
		t.Errorf("corrupted ciphertext: got %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsWrongIKM(t *testing.T) {
	pkt, err := New([]byte("payload"), 2, 64, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pkt.IKM[5] ^= 0x01
	if _, err := pkt.DecryptWithIKM(); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong ikm: got %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsShortIKM(t *testing.T) {
	pkt, err := New([]byte("payload"), 2, 64, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pkt.IKM = pkt.IKM[:16]
	if _, err := pkt.DecryptWithIKM(); !errors.Is(err, ErrIKMTooShort) {
		t.Errorf("short ikm: got %v, want ErrIKMTooShort", err)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	ikm := bytes.Repeat([]byte{0x42}, IKMSize)

	k1, n1, err := DeriveKey(ikm)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, n2, err := DeriveKey(ikm)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	if !bytes.Equal(k1, k2) || !bytes.Equal(n1, n2) {
		t.Error("same ikm derived different key material")
	}
	if len(k1) != KeySize || len(n1) != NonceSize {
		t.Errorf("derived lengths = (%d, %d), want (%d, %d)", len(k1), len(n1), KeySize, NonceSize)
	}
}

func TestDeriveKeyDistinctPerIKM(t *testing.T) {
	k1, _, err := DeriveKey(bytes.Repeat([]byte{1}, IKMSize))
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, _, err := DeriveKey(bytes.Repeat([]byte{2}, IKMSize))
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(k1, k2) {
		t.Error("distinct ikm derived identical keys")
	}
}

func TestSize(t *testing.T) {
	pkt, err := New([]byte("abc"), 1, 128, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	want := len(pkt.EncryptedPayload) + len(pkt.IKM)
	if pkt.Size() != want {
		t.Errorf("Size = %d, want %d", pkt.Size(), want)
	}
}

func TestCoverPacketsWireIndistinguishable(t *testing.T) {
	real, err := New([]byte("real traffic bytes"), 3, 256, false)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	cover, err := New([]byte("cover traffic byt!"), 3, 256, true)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	realWire, err := real.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	coverWire, err := cover.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	if len(realWire) != len(coverWire) {
		t.Errorf("wire lengths differ: real %d, cover %d", len(realWire), len(coverWire))
	}

	// The flag must not survive a wire round trip.
	var decoded Packet
	if err := decoded.UnmarshalBinary(coverWire); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if decoded.IsCover {
		t.Error("cover flag leaked onto the wire")
	}
}

func BenchmarkNew(b *testing.B) {
	payload := make([]byte, 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := New(payload, 3, 512, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecryptWithIKM(b *testing.B) {
	pkt, err := New(make([]byte, 100), 3, 512, false)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pkt.DecryptWithIKM(); err != nil {
			b.Fatal(err)
		}
	}
}
