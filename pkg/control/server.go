package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	ps "github.com/mitchellh/go-ps"
	"golang.org/x/sys/unix"
)

// Server accepts control connections and feeds parsed commands into the
// request queue. Each connection carries at most one command and receives at
// most one reply, which removes any need to frame multiple replies on one
// stream. (HAProxy behaves likewise for its control socket.)
type Server struct {
	path     string
	requests chan<- Request
	log      logr.Logger
}

func NewServer(path string, requests chan<- Request, log logr.Logger) *Server {
	return &Server{
		path:     path,
		requests: requests,
		log:      log,
	}
}

// Run binds the control socket and accepts connections until the context is
// canceled. A single failed accept is logged and does not stop the loop.
func (s *Server) Run(ctx context.Context) error {
	if err := s.removeStaleSocket(); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("unable to bind control socket %s: %w", s.path, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Error(err, "control socket connection failed")
			continue
		}
		log := s.log.WithValues("conn", uuid.New().String())
		if uc, ok := conn.(*net.UnixConn); ok {
			logPeerCred(log, uc)
		}
		go s.handle(ctx, conn, log)
	}
}

// removeStaleSocket unlinks a leftover socket file from a previous run. When
// another pktwatch process is still alive the file is not stale and we
// refuse to steal it.
func (s *Server) removeStaleSocket() error {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	self := filepath.Base(os.Args[0])
	procs, err := ps.Processes()
	if err == nil {
		for _, p := range procs {
			if p.Pid() != os.Getpid() && p.Executable() == self {
				return fmt.Errorf("control socket %s is held by running process %d", s.path, p.Pid())
			}
		}
	}
	return os.Remove(s.path)
}

func logPeerCred(log logr.Logger, conn *net.UnixConn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	var cred *unix.Ucred
	cerr := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if cerr != nil || err != nil || cred == nil {
		return
	}
	log.V(1).Info("new control socket connection", "uid", cred.Uid, "pid", cred.Pid)
}

// handle reads one command line, submits it and writes back the reply. Parse
// errors are written to the offending client only; nothing is enqueued.
func (s *Server) handle(ctx context.Context, conn net.Conn, log logr.Logger) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		if err != io.EOF {
			log.Error(err, "unable to read command")
		}
		return
	}
	cmd, err := Parse(line)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			if _, werr := io.WriteString(conn, perr.Error()+"\n"); werr != nil {
				log.Error(werr, "unable to report parse error")
			}
		}
		return
	}

	// Submitting blocks when the queue is full; a burst of control traffic
	// is throttled instead of dropped.
	req := NewRequest(cmd)
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return
	}

	select {
	case reply := <-req.Reply:
		if _, err := io.WriteString(conn, reply); err != nil {
			log.Error(err, "error sending command reply")
		}
	case <-ctx.Done():
	}
}
