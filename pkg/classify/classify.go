// Package classify implements the per-packet fast path: parse the IPv4
// header, update the packet counters, consult the blocklist, return a
// verdict. It mirrors the XDP program in pkg/bpf/c and backs the userspace
// capture mode, where it is called once per received frame. Process performs
// no allocation and no blocking call.
package classify

import (
	"encoding/binary"

	"github.com/moolen/pktwatch/pkg/netorder"
	"github.com/moolen/pktwatch/pkg/state"
)

// Verdict is the classifier decision for a single packet.
type Verdict int

const (
	// VerdictPass lets the packet through.
	VerdictPass Verdict = iota
	// VerdictDrop aborts processing of the packet.
	VerdictDrop
)

func (v Verdict) String() string {
	if v == VerdictDrop {
		return "drop"
	}
	return "pass"
}

const (
	ethHeaderLen  = 14
	ethTypeIPv4   = 0x0800
	ipv4HeaderLen = 20
)

// Classifier holds the table handles of one attachment. Handles are passed
// in explicitly, the same tables are shared with the command executor.
type Classifier struct {
	src   *state.Counters
	dst   *state.Counters
	block *state.Blocklist
}

func New(src, dst *state.Counters, block *state.Blocklist) *Classifier {
	return &Classifier{
		src:   src,
		dst:   dst,
		block: block,
	}
}

// Process inspects one received Ethernet frame. Frames without a well-formed
// IPv4 header pass through uncounted and unblocked (fail open). Counting
// happens before the block check, so dropped packets still show up in the
// source counters. A full counter table silently stops admitting new
// addresses; existing entries keep counting.
func (c *Classifier) Process(frame []byte) Verdict {
	src, dst, ok := parseIPv4(frame)
	if !ok {
		return VerdictPass
	}

	_ = c.src.Set(src, state.SaturatingIncr(c.src.Get(src)))
	_ = c.dst.Set(dst, state.SaturatingIncr(c.dst.Get(dst)))

	if c.block.Get(src) {
		return VerdictDrop
	}
	return VerdictPass
}

// parseIPv4 extracts the source and destination addresses from an Ethernet
// frame carrying IPv4, in network byte order.
func parseIPv4(frame []byte) (src, dst netorder.BeIPv4, ok bool) {
	if len(frame) < ethHeaderLen+ipv4HeaderLen {
		return 0, 0, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != ethTypeIPv4 {
		return 0, 0, false
	}
	ip := frame[ethHeaderLen:]
	if ip[0]>>4 != 4 {
		return 0, 0, false
	}
	if ihl := int(ip[0]&0x0f) * 4; ihl < ipv4HeaderLen || len(ip) < ihl {
		return 0, 0, false
	}
	src = netorder.BeIPv4(binary.LittleEndian.Uint32(ip[12:16]))
	dst = netorder.BeIPv4(binary.LittleEndian.Uint32(ip[16:20]))
	return src, dst, true
}
