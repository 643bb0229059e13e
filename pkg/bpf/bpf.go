// Package bpf loads the XDP classifier object, attaches it to a network
// interface and hands out typed handles to its maps. In XDP mode the kernel
// program is the packet fast path; userspace only ever touches the maps.
package bpf

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"

	"github.com/moolen/pktwatch/pkg/log"
)

// names must be in sync with c/xdp_count.c
const (
	progName      = "process"
	srcPacketsMap = "SRC_PACKETS"
	dstPacketsMap = "DST_PACKETS"
	srcBlockMap   = "SRC_BLOCK"
)

var logger = log.DefaultLogger.WithName("bpf")

// Collection is a loaded classifier image plus the table handles the rest of
// the system works against.
type Collection struct {
	coll *ebpf.Collection
	prog *ebpf.Program
	lnk  link.Link

	SrcPackets *CounterMap
	DstPackets *CounterMap
	SrcBlock   *BlockMap
}

// Load reads the compiled classifier from objPath and loads it into the
// kernel. The memlock rlimit is lifted first, older kernels account map
// memory against it.
func Load(objPath string) (*Collection, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("unable to remove memlock limit: %w", err)
	}
	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("unable to load collection spec %s: %w", objPath, err)
	}
	coll, err := ebpf.NewCollection(spec)
	var ve *ebpf.VerifierError
	if errors.As(err, &ve) {
		logger.Error(err, strings.Join(ve.Log, "\n"))
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load collection: %w", err)
	}

	prog := coll.Programs[progName]
	if prog == nil {
		coll.Close()
		return nil, fmt.Errorf("program %s not found in %s", progName, objPath)
	}
	for _, name := range []string{srcPacketsMap, dstPacketsMap, srcBlockMap} {
		if coll.Maps[name] == nil {
			coll.Close()
			return nil, fmt.Errorf("map %s not found in %s", name, objPath)
		}
	}

	return &Collection{
		coll:       coll,
		prog:       prog,
		SrcPackets: &CounterMap{coll.Maps[srcPacketsMap]},
		DstPackets: &CounterMap{coll.Maps[dstPacketsMap]},
		SrcBlock:   &BlockMap{coll.Maps[srcBlockMap]},
	}, nil
}

// Attach hooks the classifier into the receive path of the given interface.
func (c *Collection) Attach(iface string) error {
	dev, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("interface %s: %w", iface, err)
	}
	c.lnk, err = link.AttachXDP(link.XDPOptions{
		Program:   c.prog,
		Interface: dev.Index,
	})
	if err != nil {
		return fmt.Errorf("unable to attach XDP program to %s: %w", iface, err)
	}
	logger.Info("attached XDP program", "interface", iface, "program", progName)
	return nil
}

func (c *Collection) Close() error {
	if c.lnk != nil {
		c.lnk.Close()
	}
	if c.coll != nil {
		c.coll.Close()
	}
	return nil
}
