// Package capture is the userspace attachment: an AF_PACKET socket bound to
// one interface feeding received frames to the classifier. It exists for
// environments where loading an XDP program is not possible; verdicts are
// observational in this mode, a Drop cannot remove the packet from the
// kernel's receive path.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/moolen/pktwatch/pkg/classify"
)

const snapLen = 65536

// Handle is an open capture socket.
type Handle struct {
	fd    int
	iface string
	log   logr.Logger

	closeOnce sync.Once
}

// Attach opens a raw AF_PACKET socket and binds it to the interface.
func Attach(iface string, log logr.Logger) (*Handle, error) {
	dev, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("unable to open packet socket: %w", err)
	}
	err = unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  dev.Index,
	})
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unable to bind packet socket to %s: %w", iface, err)
	}
	log.Info("attached packet capture", "interface", iface)
	return &Handle{fd: fd, iface: iface, log: log}, nil
}

// Run reads frames until the context is canceled and feeds each one to the
// classifier. onVerdict, if set, is invoked with every verdict.
func (h *Handle) Run(ctx context.Context, cls *classify.Classifier, onVerdict func(classify.Verdict)) error {
	go func() {
		<-ctx.Done()
		h.Close()
	}()

	buf := make([]byte, snapLen)
	for {
		n, _, err := unix.Recvfrom(h.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture on %s: %w", h.iface, err)
		}
		v := cls.Process(buf[:n])
		if onVerdict != nil {
			onVerdict(v)
		}
	}
}

func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = unix.Close(h.fd)
	})
	return err
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
