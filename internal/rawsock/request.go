package rawsock

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// Defaults when the caller does not choose: every frame on the link layer.
// DefaultProtocol is the ethertype in host order; see SocketProtocol.
const (
	DefaultFamily   = unix.AF_PACKET
	DefaultProtocol = unix.ETH_P_ALL
)

// Request describes the raw socket to create. The type is always SOCK_RAW.
//
// For AF_PACKET the protocol is an ethertype written in host order, as in
// <linux/if_ether.h> (ETH_P_ALL is 3), and it is converted to network order
// on the way to socket(2). For every other family the protocol is handed to
// socket(2) exactly as given. A Request is immutable; build one with
// NewRequest or DefaultRequest.
type Request struct {
	family   int
	protocol int
}

// NewRequest validates family and protocol and returns a Request.
func NewRequest(family, protocol int) (Request, error) {
	r := Request{family: family, protocol: protocol}
	if err := r.validate(); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return r, nil
}

// DefaultRequest returns the AF_PACKET / ETH_P_ALL request, which receives
// every frame on every interface.
func DefaultRequest() Request {
	return Request{family: DefaultFamily, protocol: DefaultProtocol}
}

// Family returns the address family selector.
func (r Request) Family() int { return r.family }

// Type returns the socket type, always SOCK_RAW.
func (r Request) Type() int { return unix.SOCK_RAW }

// Protocol returns the protocol selector as requested.
func (r Request) Protocol() int { return r.protocol }

// SocketProtocol returns the protocol argument for socket(2).
func (r Request) SocketProtocol() int {
	if r.family == unix.AF_PACKET {
		return EthernetProtocol(uint16(r.protocol))
	}
	return r.protocol
}

func (r Request) String() string {
	return fmt.Sprintf("family=%d type=raw protocol=%d", r.family, r.protocol)
}

func (r Request) validate() error {
	if r.family <= unix.AF_UNSPEC || r.family >= unix.AF_MAX {
		return fmt.Errorf("address family %d out of range", r.family)
	}
	if r.protocol < 0 || r.protocol > math.MaxUint16 {
		return fmt.Errorf("protocol %d out of range", r.protocol)
	}
	return nil
}

// EthernetProtocol converts an ethertype to the network-byte-order integer
// that AF_PACKET sockets expect in socket(2) and sockaddr_ll, for example
// EthernetProtocol(unix.ETH_P_ALL).
func EthernetProtocol(ethertype uint16) int {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], ethertype)
	return int(binary.NativeEndian.Uint16(b[:]))
}
