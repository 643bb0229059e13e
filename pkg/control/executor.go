package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/moolen/pktwatch/pkg/netorder"
	"github.com/moolen/pktwatch/pkg/state"
)

// ErrQueueClosed is fatal: with the request queue gone the service cannot
// answer any further command.
var ErrQueueClosed = errors.New("request queue closed")

// Executor is the sole consumer of the request queue. Draining requests
// one at a time is the only synchronization control-plane mutations need;
// racing the datapath on individual table words is tolerated by design.
type Executor struct {
	src      state.CounterTable
	dst      state.CounterTable
	block    state.BlockTable
	requests <-chan Request
	log      logr.Logger
}

func NewExecutor(requests <-chan Request, src, dst state.CounterTable, block state.BlockTable, log logr.Logger) *Executor {
	return &Executor{
		src:      src,
		dst:      dst,
		block:    block,
		requests: requests,
		log:      log,
	}
}

// Run executes queued requests in arrival order until the context is
// canceled. It returns ErrQueueClosed if the queue is closed underneath it.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-e.requests:
			if !ok {
				return ErrQueueClosed
			}
			// Reply is buffered, the send cannot block on a vanished client.
			req.Reply <- e.execute(req.Command)
		}
	}
}

func (e *Executor) execute(cmd Command) string {
	switch cmd.Kind {
	case CmdListSrc:
		return e.listCounters(e.src)
	case CmdListDst:
		return e.listCounters(e.dst)
	case CmdListBlockSrc:
		return e.listBlocked()
	case CmdBlockSrc:
		key := netorder.FromIP(cmd.Addr)
		if err := e.block.Set(key, true); err != nil {
			// The operator must learn that the block did not take effect.
			e.log.Error(err, "unable to add address to blocklist", "addr", cmd.Addr.String())
			return "error: blocklist full\n"
		}
		return "ok\n"
	}
	return "invalid command\n"
}

func (e *Executor) listCounters(t state.CounterTable) string {
	var sb strings.Builder
	err := t.Walk(func(addr netorder.BeIPv4, count uint32) bool {
		fmt.Fprintf(&sb, "%s\t%d\n", addr, count)
		return true
	})
	if err != nil {
		e.log.Error(err, "unable to walk counter table")
	}
	return sb.String()
}

func (e *Executor) listBlocked() string {
	var sb strings.Builder
	err := e.block.Walk(func(addr netorder.BeIPv4, blocked bool) bool {
		fmt.Fprintf(&sb, "%s\t%t\n", addr, blocked)
		return true
	})
	if err != nil {
		e.log.Error(err, "unable to walk blocklist")
	}
	return sb.String()
}
