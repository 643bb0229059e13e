// Package state holds the packet tables shared between the datapath and the
// control plane. The in-memory implementation mirrors the semantics of the
// kernel-side hash maps: fixed capacity, whole-word atomic values, keys live
// for the lifetime of the attachment.
package state

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/moolen/pktwatch/pkg/netorder"
)

// MaxEntries must be in sync with the max_entries of the maps in c/xdp_count.c.
const MaxEntries = 100

// ErrTableFull is returned by Set when a new key does not fit. The existing
// entries are left untouched.
var ErrTableFull = errors.New("table full")

// CounterTable is the control-plane view of a packet counter table. Get on an
// unknown address returns 0, callers cannot distinguish absent from zero.
type CounterTable interface {
	Get(addr netorder.BeIPv4) uint32
	Set(addr netorder.BeIPv4, count uint32) error
	Walk(fn func(addr netorder.BeIPv4, count uint32) bool) error
}

// BlockTable is the control-plane view of the source blocklist. Get on an
// unknown address returns false.
type BlockTable interface {
	Get(addr netorder.BeIPv4) bool
	Set(addr netorder.BeIPv4, blocked bool) error
	Walk(fn func(addr netorder.BeIPv4, blocked bool) bool) error
}

const slotPresent = uint64(1) << 32

// slot stores the key in a single atomic word so that an insert publishes the
// key with one CAS. The value is a separate word, updated as a whole. A reader
// racing with an insert may observe the zero value, which is identical to the
// table default.
type slot struct {
	key   atomic.Uint64 // 0 when empty, otherwise slotPresent|addr
	value atomic.Uint32
}

// Table is a fixed-capacity, insert-only, open-addressed hash table keyed by
// network-order IPv4 address. It is safe for concurrent use by the packet
// path and the control path without locks; Set and Get never block and never
// allocate.
type Table struct {
	slots [MaxEntries]slot
}

func bucket(addr netorder.BeIPv4) uint32 {
	// Fibonacci hashing, good enough for 100 slots.
	return (uint32(addr) * 2654435761) % MaxEntries
}

// Get returns the value stored for addr, or 0 when absent.
func (t *Table) Get(addr netorder.BeIPv4) uint32 {
	want := slotPresent | uint64(uint32(addr))
	idx := bucket(addr)
	for i := uint32(0); i < MaxEntries; i++ {
		s := &t.slots[(idx+i)%MaxEntries]
		k := s.key.Load()
		if k == 0 {
			return 0
		}
		if k == want {
			return s.value.Load()
		}
	}
	return 0
}

// Set stores value for addr, inserting the key if it is new. Inserting into a
// full table fails with ErrTableFull and leaves the table unchanged.
func (t *Table) Set(addr netorder.BeIPv4, value uint32) error {
	want := slotPresent | uint64(uint32(addr))
	idx := bucket(addr)
	for i := uint32(0); i < MaxEntries; i++ {
		s := &t.slots[(idx+i)%MaxEntries]
		k := s.key.Load()
		if k == 0 {
			if s.key.CompareAndSwap(0, want) {
				s.value.Store(value)
				return nil
			}
			// lost the race for this slot, re-read it
			k = s.key.Load()
		}
		if k == want {
			s.value.Store(value)
			return nil
		}
	}
	return ErrTableFull
}

// Walk calls fn for every present entry until fn returns false. Iteration
// order is unspecified. Entries inserted concurrently may or may not be seen.
func (t *Table) Walk(fn func(addr netorder.BeIPv4, value uint32) bool) error {
	for i := range t.slots {
		s := &t.slots[i]
		k := s.key.Load()
		if k == 0 {
			continue
		}
		if !fn(netorder.BeIPv4(uint32(k)), s.value.Load()) {
			break
		}
	}
	return nil
}

// Counters counts packets per address.
type Counters struct {
	Table
}

// Blocklist flags source addresses whose packets must be dropped.
type Blocklist struct {
	tbl Table
}

func (b *Blocklist) Get(addr netorder.BeIPv4) bool {
	return b.tbl.Get(addr) != 0
}

func (b *Blocklist) Set(addr netorder.BeIPv4, blocked bool) error {
	var v uint32
	if blocked {
		v = 1
	}
	return b.tbl.Set(addr, v)
}

func (b *Blocklist) Walk(fn func(addr netorder.BeIPv4, blocked bool) bool) error {
	return b.tbl.Walk(func(addr netorder.BeIPv4, value uint32) bool {
		return fn(addr, value != 0)
	})
}

// SaturatingIncr increments a packet count, clamping at the maximum instead
// of wrapping. A hot address must never be reset to a low count by overflow.
func SaturatingIncr(v uint32) uint32 {
	if v == math.MaxUint32 {
		return v
	}
	return v + 1
}
