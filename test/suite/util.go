package e2e

import (
	"encoding/binary"
	"net"
)

// frame builds a minimal Ethernet+IPv4 frame with the given addresses.
func frame(src, dst string) []byte {
	b := make([]byte, 14+20)
	binary.BigEndian.PutUint16(b[12:14], 0x0800)
	b[14] = 0x45 // version 4, ihl 5
	copy(b[14+12:], net.ParseIP(src).To4())
	copy(b[14+16:], net.ParseIP(dst).To4())
	return b
}
