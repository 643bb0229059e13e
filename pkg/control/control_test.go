package control_test

import (
	"context"
	"net"
	"testing"

	// nolint
	. "github.com/onsi/ginkgo/v2"
	// nolint
	. "github.com/onsi/gomega"

	"github.com/moolen/pktwatch/pkg/control"
	"github.com/moolen/pktwatch/pkg/log"
	"github.com/moolen/pktwatch/pkg/netorder"
	"github.com/moolen/pktwatch/pkg/state"
)

func TestControl(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "control suite")
}

var _ = Describe("Parse", func() {
	It("accepts the parameterless list commands", func() {
		for line, kind := range map[string]control.CommandKind{
			"list-src\n":       control.CmdListSrc,
			"list-dst\n":       control.CmdListDst,
			"list-block-src\n": control.CmdListBlockSrc,
		} {
			cmd, err := control.Parse(line)
			Expect(err).ToNot(HaveOccurred())
			Expect(cmd.Kind).To(Equal(kind))
		}
	})

	It("accepts block-src with an IPv4 literal", func() {
		cmd, err := control.Parse("block-src 10.0.0.1\r\n")
		Expect(err).ToNot(HaveOccurred())
		Expect(cmd.Kind).To(Equal(control.CmdBlockSrc))
		Expect(cmd.Addr.Equal(net.ParseIP("10.0.0.1"))).To(BeTrue())
	})

	It("rejects unknown commands", func() {
		_, err := control.Parse("frobnicate\n")
		Expect(err).To(MatchError("invalid command"))
	})

	It("rejects an empty line", func() {
		_, err := control.Parse("\n")
		Expect(err).To(MatchError("invalid command"))
	})

	It("rejects block-src without a parameter", func() {
		_, err := control.Parse("block-src\n")
		Expect(err).To(MatchError("command requires parameters"))
	})

	It("rejects parameters on list commands", func() {
		_, err := control.Parse("list-src foo\n")
		Expect(err).To(MatchError("unexpected parameters"))
		_, err = control.Parse("list-dst foo\n")
		Expect(err).To(MatchError("unexpected parameters"))
	})

	It("rejects unparseable addresses", func() {
		_, err := control.Parse("block-src not-an-ip\n")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(HavePrefix("could not parse ip:"))
	})

	It("rejects IPv6 addresses", func() {
		_, err := control.Parse("block-src ::1\n")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(HavePrefix("could not parse ip:"))
	})

	It("rejects trailing junk after the address", func() {
		_, err := control.Parse("block-src 10.0.0.1 extra\n")
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(HavePrefix("could not parse ip:"))
	})
})

var _ = Describe("Executor", func() {
	var (
		src      *state.Counters
		dst      *state.Counters
		block    *state.Blocklist
		requests chan control.Request
		cancel   context.CancelFunc
		done     chan error
	)

	submit := func(line string) string {
		cmd, err := control.Parse(line)
		Expect(err).ToNot(HaveOccurred())
		req := control.NewRequest(cmd)
		requests <- req
		return <-req.Reply
	}

	BeforeEach(func() {
		src = &state.Counters{}
		dst = &state.Counters{}
		block = &state.Blocklist{}
		requests = make(chan control.Request, 16)

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		exec := control.NewExecutor(requests, src, dst, block, log.DefaultLogger)
		done = make(chan error, 1)
		go func() {
			done <- exec.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("replies with the empty string for an empty table", func() {
		Expect(submit("list-src\n")).To(Equal(""))
		Expect(submit("list-dst\n")).To(Equal(""))
		Expect(submit("list-block-src\n")).To(Equal(""))
	})

	It("lists counter entries as address/value lines", func() {
		Expect(src.Set(netorder.FromIP(net.ParseIP("10.0.0.1")), 1)).To(Succeed())
		Expect(submit("list-src\n")).To(Equal("10.0.0.1\t1\n"))
	})

	It("acknowledges block-src and records the entry", func() {
		Expect(submit("block-src 10.0.0.1\n")).To(Equal("ok\n"))
		Expect(block.Get(netorder.FromIP(net.ParseIP("10.0.0.1")))).To(BeTrue())
		Expect(submit("list-block-src\n")).To(ContainSubstring("10.0.0.1\ttrue\n"))
	})

	It("reports a full blocklist instead of silently failing", func() {
		for i := uint32(1); i <= state.MaxEntries; i++ {
			Expect(block.Set(netorder.BeIPv4(i), true)).To(Succeed())
		}
		Expect(submit("block-src 172.16.0.9\n")).To(Equal("error: blocklist full\n"))
		Expect(block.Get(netorder.FromIP(net.ParseIP("172.16.0.9")))).To(BeFalse())
	})

	It("processes queued requests in submission order", func() {
		blockCmd, err := control.Parse("block-src 10.0.0.1\n")
		Expect(err).ToNot(HaveOccurred())
		listCmd, err := control.Parse("list-block-src\n")
		Expect(err).ToNot(HaveOccurred())

		first := control.NewRequest(blockCmd)
		second := control.NewRequest(listCmd)
		requests <- first
		requests <- second

		Expect(<-first.Reply).To(Equal("ok\n"))
		Expect(<-second.Reply).To(ContainSubstring("10.0.0.1\ttrue\n"))
	})

	It("fails fatally when the queue is closed", func() {
		q := make(chan control.Request)
		exec := control.NewExecutor(q, src, dst, block, log.DefaultLogger)
		res := make(chan error, 1)
		go func() {
			res <- exec.Run(context.Background())
		}()
		close(q)
		Eventually(res).Should(Receive(MatchError(control.ErrQueueClosed)))
	})
})
