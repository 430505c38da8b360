// Package stub implements the Listener Set and Request Dispatcher: it
// owns the UDP/TCP sockets, the duplicate-suppression and in-flight
// query tables, and the per-query lifecycle from raw bytes in to final
// reply bytes out. The actual answer content comes from
// internal/resolver, internal/assembler, and internal/finalizer — this
// package is purely the transport and bookkeeping layer around them.
package stub

import (
	"net"

	"github.com/jroosing/stubresolve/internal/dnswire"
	"github.com/jroosing/stubresolve/internal/finalizer"
)

// Transport identifies which socket type a query arrived on.
type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	if t == TransportTCP {
		return "tcp"
	}
	return "udp"
}

// DuplicateKey identifies a query for in-flight duplicate suppression.
// It is deliberately narrow: transport, address family, sender
// address/port, and the raw 12-byte header — nothing derived from the
// parsed question, so a key can be computed before parsing succeeds.
type DuplicateKey struct {
	Transport Transport
	IsIPv6    bool
	Addr      [16]byte
	Port      uint16
	Header    [dnswire.HeaderSize]byte
}

// NewDuplicateKey builds a DuplicateKey from a sender address and the
// raw request bytes. Returns ok=false if reqBytes is too short to carry
// a header.
func NewDuplicateKey(transport Transport, addr net.Addr, reqBytes []byte) (DuplicateKey, bool) {
	if len(reqBytes) < dnswire.HeaderSize {
		return DuplicateKey{}, false
	}
	var k DuplicateKey
	k.Transport = transport
	copy(k.Header[:], reqBytes[:dnswire.HeaderSize])

	ip, port, ok := addrParts(addr)
	if !ok {
		return DuplicateKey{}, false
	}
	k.IsIPv6 = ip.To4() == nil
	copy(k.Addr[:], ip.To16())
	k.Port = port
	return k, true
}

func addrParts(addr net.Addr) (net.IP, uint16, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, uint16(a.Port), true
	case *net.TCPAddr:
		return a.IP, uint16(a.Port), true
	default:
		return nil, 0, false
	}
}

// ListenerKind distinguishes the primary loopback listener from
// operator-configured extra listeners.
type ListenerKind = finalizer.ListenerKind

const (
	ListenerPrimary = finalizer.ListenerPrimary
	ListenerExtra   = finalizer.ListenerExtra
)

// ListenerSpec describes one extra listener: address/port and which
// transports (Network) it serves. The equality key for deduplicating
// operator-configured extras is (Network, Address, Port).
type ListenerSpec struct {
	Network string // "udp", "tcp", or "both"
	Address string
	Port    int
}

// Query is the in-flight unit of work the Dispatcher tracks from
// ingress to reply. Bypass queries skip assembly entirely and carry the
// resolver's raw upstream packet straight to the finalizer's patch path.
type Query struct {
	Request      dnswire.Packet
	RawRequest   []byte
	Transport    Transport
	Listener     ListenerKind
	Peer         net.Addr
	Bypass       bool
	DuplicateKey DuplicateKey
	HasDupKey    bool
}
