package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/moolen/pktwatch/pkg/classify"
	"github.com/moolen/pktwatch/pkg/netorder"
	"github.com/moolen/pktwatch/pkg/state"
)

var (
	trackedAddresses = prometheus.NewDesc(
		"pktwatch_tracked_addresses",
		"Number of addresses present in a packet table",
		[]string{"table"}, nil,
	)
	packetsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pktwatch_packets_processed",
		Help: "Number of packets seen by the classifier",
	}, []string{"verdict"})
)

// Register wires the table collector and the verdict counters into reg.
func Register(reg prometheus.Registerer, src, dst state.CounterTable, block state.BlockTable) {
	reg.MustRegister(packetsProcessed)
	reg.MustRegister(&Collector{src: src, dst: dst, block: block})
}

// ObserveVerdict counts one classifier decision.
func ObserveVerdict(v classify.Verdict) {
	packetsProcessed.WithLabelValues(v.String()).Inc()
}

// Collector walks the packet tables on scrape. Tables are small (100 entries
// at most), a full walk per scrape is cheap.
type Collector struct {
	src   state.CounterTable
	dst   state.CounterTable
	block state.BlockTable
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := map[string]state.CounterTable{
		"src": c.src,
		"dst": c.dst,
	}
	for name, tbl := range counters {
		var entries float64
		_ = tbl.Walk(func(netorder.BeIPv4, uint32) bool {
			entries++
			return true
		})
		ch <- prometheus.MustNewConstMetric(trackedAddresses, prometheus.GaugeValue, entries, name)
	}
	var blocked float64
	_ = c.block.Walk(func(netorder.BeIPv4, bool) bool {
		blocked++
		return true
	})
	ch <- prometheus.MustNewConstMetric(trackedAddresses, prometheus.GaugeValue, blocked, "block")
}
