// Package controller assembles the daemon: table handles, the datapath
// attachment, the control socket front end and the command executor. All
// shared state is passed around as explicit handles, there are no
// process-wide singletons.
package controller

import (
	"context"
	"fmt"
	"net"

	"github.com/jackpal/gateway"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/pktwatch/pkg/bpf"
	"github.com/moolen/pktwatch/pkg/capture"
	"github.com/moolen/pktwatch/pkg/classify"
	"github.com/moolen/pktwatch/pkg/control"
	"github.com/moolen/pktwatch/pkg/log"
	"github.com/moolen/pktwatch/pkg/metrics"
	"github.com/moolen/pktwatch/pkg/state"
)

// Mode selects the datapath.
type Mode string

const (
	// ModeXDP loads the kernel classifier and shares its maps.
	ModeXDP Mode = "xdp"
	// ModeCapture runs the Go classifier over an AF_PACKET socket.
	ModeCapture Mode = "capture"
)

// requestQueueSize bounds the control queue; submitters block when it is
// full rather than dropping commands.
const requestQueueSize = 512

var logger = log.DefaultLogger.WithName("controller")

type Config struct {
	Iface         string
	Mode          Mode
	SocketPath    string
	BPFObjectPath string
}

type Controller struct {
	cfg Config

	src   state.CounterTable
	dst   state.CounterTable
	block state.BlockTable

	coll       *bpf.Collection
	cap        *capture.Handle
	classifier *classify.Classifier

	requests chan control.Request
	server   *control.Server
	executor *control.Executor
}

// New attaches the selected datapath and prepares the control plane. The
// returned controller must be Closed to release the attachment.
func New(cfg Config) (*Controller, error) {
	c := &Controller{cfg: cfg}

	switch cfg.Mode {
	case ModeXDP:
		coll, err := bpf.Load(cfg.BPFObjectPath)
		if err != nil {
			return nil, err
		}
		if err := coll.Attach(cfg.Iface); err != nil {
			coll.Close()
			return nil, err
		}
		c.coll = coll
		c.src = coll.SrcPackets
		c.dst = coll.DstPackets
		c.block = coll.SrcBlock
	case ModeCapture:
		src := &state.Counters{}
		dst := &state.Counters{}
		block := &state.Blocklist{}
		c.src, c.dst, c.block = src, dst, block
		c.classifier = classify.New(src, dst, block)
		hdl, err := capture.Attach(cfg.Iface, logger.WithName("capture"))
		if err != nil {
			return nil, err
		}
		c.cap = hdl
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	c.requests = make(chan control.Request, requestQueueSize)
	c.server = control.NewServer(cfg.SocketPath, c.requests, logger.WithName("control"))
	c.executor = control.NewExecutor(c.requests, c.src, c.dst, c.block, logger.WithName("executor"))
	metrics.Register(prometheus.DefaultRegisterer, c.src, c.dst, c.block)
	return c, nil
}

// Run drives the control plane (and the capture loop, in capture mode) until
// the context is canceled or a fatal error occurs.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.server.Run(ctx)
	})
	g.Go(func() error {
		return c.executor.Run(ctx)
	})
	if c.cap != nil {
		g.Go(func() error {
			return c.cap.Run(ctx, c.classifier, metrics.ObserveVerdict)
		})
	}
	return g.Wait()
}

func (c *Controller) Close() error {
	if c.coll != nil {
		return c.coll.Close()
	}
	if c.cap != nil {
		return c.cap.Close()
	}
	return nil
}

// ResolveInterface maps the literal name "auto" to the interface holding the
// default route, falling back to eth0 when discovery fails.
func ResolveInterface(name string) string {
	if name != "auto" {
		return name
	}
	ip, err := gateway.DiscoverInterface()
	if err != nil {
		logger.Error(err, "unable to discover default-route interface, falling back to eth0")
		return "eth0"
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Error(err, "unable to list interfaces, falling back to eth0")
		return "eth0"
	}
	for _, dev := range ifaces {
		addrs, err := dev.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				logger.Info("discovered default-route interface", "interface", dev.Name)
				return dev.Name
			}
		}
	}
	logger.Info("no interface matches default route, falling back to eth0")
	return "eth0"
}
