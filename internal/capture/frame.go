// Package capture reads link-layer frames from a brokered AF_PACKET socket.
//
// The socket comes from rawsock; this package only binds it, reads from it
// and decodes the Ethernet header of each frame. Nothing here needs
// privilege.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	ethernetHeaderLen = 14
	vlanTagLen        = 4
	etherTypeVLAN     = 0x8100
)

// ErrShortFrame is returned for frames smaller than an Ethernet header.
var ErrShortFrame = errors.New("frame shorter than ethernet header")

// Frame is one received link-layer frame.
type Frame struct {
	Ifindex    int
	PacketType uint8
	Dst        net.HardwareAddr
	Src        net.HardwareAddr
	EtherType  uint16
	VLAN       int // -1 when untagged
	Length     int
	Payload    []byte
}

// ParseFrame decodes the Ethernet header of data. A single 802.1Q tag is
// unwrapped. The returned Frame references data.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < ethernetHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}

	f := &Frame{
		Dst:       net.HardwareAddr(data[0:6]),
		Src:       net.HardwareAddr(data[6:12]),
		EtherType: binary.BigEndian.Uint16(data[12:14]),
		VLAN:      -1,
		Length:    len(data),
		Payload:   data[ethernetHeaderLen:],
	}

	if f.EtherType == etherTypeVLAN && len(data) >= ethernetHeaderLen+vlanTagLen {
		tci := binary.BigEndian.Uint16(data[14:16])
		f.VLAN = int(tci & 0x0fff)
		f.EtherType = binary.BigEndian.Uint16(data[16:18])
		f.Payload = data[ethernetHeaderLen+vlanTagLen:]
	}

	return f, nil
}

var packetTypeNames = map[uint8]string{
	unix.PACKET_HOST:      "host",
	unix.PACKET_BROADCAST: "broadcast",
	unix.PACKET_MULTICAST: "multicast",
	unix.PACKET_OTHERHOST: "otherhost",
	unix.PACKET_OUTGOING:  "outgoing",
}

// PacketTypeName names an AF_PACKET packet type.
func PacketTypeName(t uint8) string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return "type" + strconv.Itoa(int(t))
}

var etherTypeNames = map[uint16]string{
	unix.ETH_P_ALL:  "all",
	unix.ETH_P_IP:   "ipv4",
	unix.ETH_P_ARP:  "arp",
	unix.ETH_P_IPV6: "ipv6",
	etherTypeVLAN:   "vlan",
}

// EtherTypeName names common ethertypes and formats the rest in hex.
func EtherTypeName(t uint16) string {
	if name, ok := etherTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", t)
}

// ParseEtherType accepts a name known to EtherTypeName or a number
// in decimal or 0x-prefixed hex.
func ParseEtherType(s string) (uint16, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for value, name := range etherTypeNames {
		if name == s {
			return value, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid ethertype %q", s)
	}
	return uint16(v), nil
}

func (f *Frame) String() string {
	vlan := ""
	if f.VLAN >= 0 {
		vlan = fmt.Sprintf(" vlan=%d", f.VLAN)
	}
	return fmt.Sprintf("if=%d %s %s > %s %s%s len=%d",
		f.Ifindex, PacketTypeName(f.PacketType), f.Src, f.Dst, EtherTypeName(f.EtherType), vlan, f.Length)
}
