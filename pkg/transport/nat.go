package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"
)

// STUN message types
const (
	stunMsgTypeBindingRequest  = 0x0001
	stunMsgTypeBindingResponse = 0x0101
)

// STUN attribute types
const (
	stunAttrMappedAddress    = 0x0001
	stunAttrXORMappedAddress = 0x0020
)

// stunMagicCookie is the fixed cookie from RFC 5389.
const stunMagicCookie = 0x2112A442

const stunHeaderSize = 20

// DefaultSTUNServers are queried in order until one answers.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

// ErrNATDiscovery is returned when no STUN server yields a public address.
var ErrNATDiscovery = errors.New("transport: nat discovery failed")

// NATTraversal discovers the public address of a NAT-restricted peer and
// punches holes toward direct peers.
type NATTraversal struct {
	localAddr   *net.UDPAddr
	stunServers []string
	timeout     time.Duration
}

// NewNATTraversal creates a traversal helper bound to a local address.
func NewNATTraversal(localAddr string) (*NATTraversal, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve local %s: %w", localAddr, err)
	}
	return &NATTraversal{
		localAddr:   addr,
		stunServers: DefaultSTUNServers,
		timeout:     5 * time.Second,
	}, nil
}

// WithSTUNServers replaces the server list.
func (n *NATTraversal) WithSTUNServers(servers []string) *NATTraversal {
	n.stunServers = servers
	return n
}

// DiscoverPublicAddr queries the STUN servers in order and returns the
// first mapped address.
func (n *NATTraversal) DiscoverPublicAddr(ctx context.Context) (*net.UDPAddr, error) {
	for _, server := range n.stunServers {
		addr, err := n.querySTUN(ctx, server)
		if err != nil {
			continue
		}
		return addr, nil
	}
	return nil, ErrNATDiscovery
}

func (n *NATTraversal) querySTUN(ctx context.Context, server string) (*net.UDPAddr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", n.localAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	request, txID, err := BuildSTUNBindingRequest()
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP(request, serverAddr); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	buf := make([]byte, 1024)
	read, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}

	return ParseSTUNResponse(buf[:read], txID)
}

// HolePunch sends a burst of datagrams toward a peer to open the NAT
// mapping, returning the bound socket for the follow-up exchange.
func (n *NATTraversal) HolePunch(ctx context.Context, peer *net.UDPAddr) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", n.localAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err := ctx.Err(); err != nil {
			conn.Close()
			return nil, err
		}
		if _, err := conn.WriteToUDP([]byte("PUNCH"), peer); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: punch: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	return conn, nil
}

// BuildSTUNBindingRequest assembles a binding request and returns it with
// the transaction id for response matching.
func BuildSTUNBindingRequest() ([]byte, [12]byte, error) {
	var txID [12]byte
	if _, err := rand.Read(txID[:]); err != nil {
		return nil, txID, fmt.Errorf("transport: sample txid: %w", err)
	}

	request := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(request[0:2], stunMsgTypeBindingRequest)
	// Message length zero: no attributes.
	binary.BigEndian.PutUint32(request[4:8], stunMagicCookie)
	copy(request[8:20], txID[:])
	return request, txID, nil
}

// ParseSTUNResponse extracts the mapped address from a binding response.
func ParseSTUNResponse(data []byte, txID [12]byte) (*net.UDPAddr, error) {
	if len(data) < stunHeaderSize {
		return nil, fmt.Errorf("%w: response too short", ErrNATDiscovery)
	}

	msgType := binary.BigEndian.Uint16(data[0:2])
	if msgType != stunMsgTypeBindingResponse {
		return nil, fmt.Errorf("%w: not a binding response", ErrNATDiscovery)
	}
	if !bytesEqual(data[8:20], txID[:]) {
		return nil, fmt.Errorf("%w: transaction id mismatch", ErrNATDiscovery)
	}

	pos := stunHeaderSize
	for pos+4 <= len(data) {
		attrType := binary.BigEndian.Uint16(data[pos : pos+2])
		attrLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		pos += 4

		if pos+attrLen > len(data) {
			break
		}

		switch attrType {
		case stunAttrXORMappedAddress:
			if addr := parseXORMappedAddress(data[pos : pos+attrLen]); addr != nil {
				return addr, nil
			}
		case stunAttrMappedAddress:
			if addr := parseMappedAddress(data[pos : pos+attrLen]); addr != nil {
				return addr, nil
			}
		}

		// Attributes are padded to 4-byte boundaries.
		pos += (attrLen + 3) &^ 3
	}

	return nil, fmt.Errorf("%w: no mapped address attribute", ErrNATDiscovery)
}

func parseXORMappedAddress(attr []byte) *net.UDPAddr {
	if len(attr) < 8 {
		return nil
	}

	family := attr[1]
	port := binary.BigEndian.Uint16(attr[2:4]) ^ uint16(stunMagicCookie>>16)

	if family == 0x01 { // IPv4
		ip := make(net.IP, 4)
		cookie := [4]byte{}
		binary.BigEndian.PutUint32(cookie[:], stunMagicCookie)
		for i := 0; i < 4; i++ {
			ip[i] = attr[4+i] ^ cookie[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}
	}
	return nil
}

func parseMappedAddress(attr []byte) *net.UDPAddr {
	if len(attr) < 8 {
		return nil
	}

	family := attr[1]
	port := binary.BigEndian.Uint16(attr[2:4])

	if family == 0x01 { // IPv4
		ip := make(net.IP, 4)
		copy(ip, attr[4:8])
		return &net.UDPAddr{IP: ip, Port: int(port)}
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
