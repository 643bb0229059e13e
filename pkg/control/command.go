// Package control implements the operator-facing control channel: a Unix
// stream socket accepting one line-based command per connection, a bounded
// request queue, and a single executor that serializes all control-plane
// access to the packet tables.
package control

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

type CommandKind int

const (
	CmdListSrc CommandKind = iota
	CmdListDst
	CmdListBlockSrc
	CmdBlockSrc
)

// Command is one parsed control command. Addr is only set for CmdBlockSrc.
type Command struct {
	Kind CommandKind
	Addr net.IP
}

// Request pairs a command with its single-use reply slot. The front end owns
// the request until it is queued; the executor performs exactly one send on
// Reply. The channel is buffered so the executor never blocks on delivery.
type Request struct {
	Command Command
	Reply   chan string
}

func NewRequest(cmd Command) Request {
	return Request{Command: cmd, Reply: make(chan string, 1)}
}

// ParseError carries the one-line message written back to the client.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{msg: fmt.Sprintf(format, args...)}
}

// Parse turns one command line into a Command. The grammar is a
// case-sensitive keyword plus an optional single parameter, whitespace
// delimited. Errors are reported to the client verbatim and the line is
// never enqueued.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, " \t\r\n")
	keyword, params, hasParams := strings.Cut(line, " ")

	switch {
	case keyword == "list-src" && !hasParams:
		return Command{Kind: CmdListSrc}, nil
	case keyword == "list-dst" && !hasParams:
		return Command{Kind: CmdListDst}, nil
	case keyword == "list-block-src" && !hasParams:
		return Command{Kind: CmdListBlockSrc}, nil
	case keyword == "block-src" && hasParams:
		addr, err := netip.ParseAddr(params)
		if err != nil {
			return Command{}, parseErrorf("could not parse ip: %s", err)
		}
		if !addr.Is4() {
			return Command{}, parseErrorf("could not parse ip: %s is not an IPv4 address", params)
		}
		return Command{Kind: CmdBlockSrc, Addr: net.IP(addr.AsSlice())}, nil
	case keyword == "list-src" || keyword == "list-dst" || keyword == "list-block-src":
		return Command{}, parseErrorf("unexpected parameters")
	case keyword == "block-src":
		return Command{}, parseErrorf("command requires parameters")
	default:
		return Command{}, parseErrorf("invalid command")
	}
}
