package e2e

import (
	"io"
	"net"
	"sync"

	// nolint
	. "github.com/onsi/ginkgo/v2"
	// nolint
	. "github.com/onsi/gomega"

	"github.com/moolen/pktwatch/pkg/classify"
)

// roundTrip performs one command/reply cycle the way a real client does:
// dial, write one line, read until the server closes the connection.
func roundTrip(line string) string {
	conn, err := net.Dial("unix", socketPath)
	Expect(err).ToNot(HaveOccurred())
	defer conn.Close()
	_, err = io.WriteString(conn, line)
	Expect(err).ToNot(HaveOccurred())
	reply, err := io.ReadAll(conn)
	Expect(err).ToNot(HaveOccurred())
	return string(reply)
}

var _ = Describe("control protocol", func() {
	It("replies with the empty string for an empty table", func() {
		Expect(roundTrip("list-src\n")).To(Equal(""))
	})

	It("lists a counted source address", func() {
		classifier.Process(frame("10.0.0.1", "10.0.0.2"))
		Expect(roundTrip("list-src\n")).To(Equal("10.0.0.1\t1\n"))
		Expect(roundTrip("list-dst\n")).To(Equal("10.0.0.2\t1\n"))
	})

	It("blocks a source via the protocol and drops its next packet", func() {
		Expect(roundTrip("block-src 10.0.0.1\n")).To(Equal("ok\n"))
		Expect(classifier.Process(frame("10.0.0.1", "10.0.0.2"))).To(Equal(classify.VerdictDrop))
		Expect(roundTrip("list-block-src\n")).To(ContainSubstring("10.0.0.1\ttrue\n"))
	})

	It("reports missing parameters without mutating any table", func() {
		Expect(roundTrip("block-src\n")).To(Equal("command requires parameters\n"))
		Expect(roundTrip("list-block-src\n")).To(Equal(""))
	})

	It("reports unknown commands without mutating any table", func() {
		Expect(roundTrip("frobnicate\n")).To(Equal("invalid command\n"))
		Expect(roundTrip("list-src\n")).To(Equal(""))
	})

	It("reports unparseable addresses", func() {
		Expect(roundTrip("block-src bogus\n")).To(HavePrefix("could not parse ip:"))
	})

	It("handles a client that closes without sending anything", func() {
		conn, err := net.Dial("unix", socketPath)
		Expect(err).ToNot(HaveOccurred())
		Expect(conn.Close()).To(Succeed())
		// the accept loop keeps serving
		Expect(roundTrip("list-src\n")).To(Equal(""))
	})

	It("serves concurrent clients independently", func() {
		// a stalled client holds its connection open without reading
		stalled, err := net.Dial("unix", socketPath)
		Expect(err).ToNot(HaveOccurred())
		defer stalled.Close()

		var wg sync.WaitGroup
		replies := make([]string, 8)
		for i := range replies {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				replies[i] = roundTrip("list-src\n")
			}(i)
		}
		wg.Wait()
		for _, r := range replies {
			Expect(r).To(Equal(""))
		}
	})

	It("applies commands from separate connections in order", func() {
		Expect(roundTrip("block-src 10.0.0.1\n")).To(Equal("ok\n"))
		Expect(roundTrip("block-src 10.0.0.2\n")).To(Equal("ok\n"))
		reply := roundTrip("list-block-src\n")
		Expect(reply).To(ContainSubstring("10.0.0.1\ttrue\n"))
		Expect(reply).To(ContainSubstring("10.0.0.2\ttrue\n"))
	})
})
