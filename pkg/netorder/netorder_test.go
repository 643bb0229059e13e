package netorder_test

import (
	"math/rand"
	"net"
	"testing"

	// nolint
	. "github.com/onsi/ginkgo/v2"
	// nolint
	. "github.com/onsi/gomega"

	"github.com/moolen/pktwatch/pkg/netorder"
)

func TestNetorder(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "netorder suite")
}

var _ = Describe("BeIPv4", func() {
	It("converts known addresses to their dotted form and back", func() {
		for _, s := range []string{"10.0.0.1", "127.0.0.1", "255.255.255.255", "0.0.0.0", "192.168.178.32"} {
			key := netorder.FromIP(net.ParseIP(s))
			Expect(key.String()).To(Equal(s))
			Expect(netorder.FromIP(key.IP())).To(Equal(key))
		}
	})

	It("round-trips the extreme values", func() {
		for _, v := range []uint32{0, 1, 0xffffffff, 0x7fffffff, 0x80000000} {
			addr := netorder.BeIPv4(v)
			Expect(netorder.FromIP(addr.IP())).To(Equal(addr))
		}
	})

	It("round-trips random values through the host form", func() {
		rng := rand.New(rand.NewSource(GinkgoRandomSeed()))
		for i := 0; i < 1<<18; i++ {
			addr := netorder.BeIPv4(rng.Uint32())
			if got := netorder.FromIP(addr.IP()); got != addr {
				Fail("round trip mismatch: " + addr.String() + " came back as " + got.String())
			}
		}
	})

	It("maps non-IPv4 input to the zero key", func() {
		Expect(netorder.FromIP(net.ParseIP("::1"))).To(Equal(netorder.BeIPv4(0)))
		Expect(netorder.FromIP(nil)).To(Equal(netorder.BeIPv4(0)))
	})
})
