// Package netorder converts between host-visible IPv4 addresses and the
// network-byte-order key form used by the packet tables. The kernel datapath
// stores addresses exactly as they appear on the wire, so every userspace
// lookup has to go through this codec.
package netorder

import (
	"encoding/binary"
	"net"
)

// BeIPv4 is the big-endian (network byte order) representation of an IPv4
// address. It is opaque to arithmetic and only used as a table key.
type BeIPv4 uint32

// FromIP converts an IPv4 address to its network-order key form.
// Non-IPv4 addresses map to 0 (0.0.0.0), which is still a valid key.
func FromIP(ip net.IP) BeIPv4 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return BeIPv4(binary.LittleEndian.Uint32(v4))
}

// IP converts the network-order key form back to a net.IP.
func (a BeIPv4) IP() net.IP {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(a))
	return net.IP(buf)
}

func (a BeIPv4) String() string {
	return a.IP().String()
}
