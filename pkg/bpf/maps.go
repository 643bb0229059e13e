package bpf

import (
	"errors"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/moolen/pktwatch/pkg/netorder"
	"github.com/moolen/pktwatch/pkg/state"
)

// CounterMap adapts a kernel packet-counter map to the state.CounterTable
// contract: absent keys read as zero, a full map reports state.ErrTableFull.
type CounterMap struct {
	*ebpf.Map
}

func (m *CounterMap) Get(addr netorder.BeIPv4) uint32 {
	var val uint32
	if err := m.Lookup(uint32(addr), &val); err != nil {
		return 0
	}
	return val
}

func (m *CounterMap) Set(addr netorder.BeIPv4, count uint32) error {
	return translateErr(m.Put(uint32(addr), count))
}

func (m *CounterMap) Walk(fn func(addr netorder.BeIPv4, count uint32) bool) error {
	var (
		key uint32
		val uint32
	)
	it := m.Iterate()
	for it.Next(&key, &val) {
		if !fn(netorder.BeIPv4(key), val) {
			break
		}
	}
	return it.Err()
}

// BlockMap adapts the kernel blocklist map, whose values are single bytes,
// to the state.BlockTable contract.
type BlockMap struct {
	*ebpf.Map
}

func (m *BlockMap) Get(addr netorder.BeIPv4) bool {
	var val uint8
	if err := m.Lookup(uint32(addr), &val); err != nil {
		return false
	}
	return val != 0
}

func (m *BlockMap) Set(addr netorder.BeIPv4, blocked bool) error {
	var val uint8
	if blocked {
		val = 1
	}
	return translateErr(m.Put(uint32(addr), val))
}

func (m *BlockMap) Walk(fn func(addr netorder.BeIPv4, blocked bool) bool) error {
	var (
		key uint32
		val uint8
	)
	it := m.Iterate()
	for it.Next(&key, &val) {
		if !fn(netorder.BeIPv4(key), val != 0) {
			break
		}
	}
	return it.Err()
}

// translateErr maps the kernel's full-map errno onto the shared sentinel so
// the executor reports capacity the same way for both datapaths.
func translateErr(err error) error {
	if errors.Is(err, unix.E2BIG) {
		return state.ErrTableFull
	}
	return err
}
