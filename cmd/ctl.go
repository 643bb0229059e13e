/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/miekg/dns"
	"github.com/spf13/cobra"
)

// ctlCmd talks to a running daemon over the control socket. One connection
// carries exactly one command and one reply.
var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "interact with a running pktwatch daemon",
	Long:  ``,
}

var resolveNames bool

var listSrcCmd = &cobra.Command{
	Use:   "list-src",
	Short: "list per-source packet counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList("list-src", "packets")
	},
}

var listDstCmd = &cobra.Command{
	Use:   "list-dst",
	Short: "list per-destination packet counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList("list-dst", "packets")
	},
}

var listBlockSrcCmd = &cobra.Command{
	Use:   "list-block-src",
	Short: "list blocklisted source addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList("list-block-src", "blocked")
	},
}

var blockSrcCmd = &cobra.Command{
	Use:   "block-src <addr>",
	Short: "add a source address to the blocklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := sendCommand("block-src " + args[0])
		if err != nil {
			return err
		}
		fmt.Print(reply)
		if strings.TrimSpace(reply) != "ok" {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	ctlCmd.PersistentFlags().BoolVar(&resolveNames, "resolve", false, "annotate addresses with their PTR record")
	ctlCmd.AddCommand(listSrcCmd, listDstCmd, listBlockSrcCmd, blockSrcCmd)
	rootCmd.AddCommand(ctlCmd)
}

func runList(command, valueHeader string) error {
	reply, err := sendCommand(command)
	if err != nil {
		return err
	}
	renderList(reply, valueHeader)
	return nil
}

// sendCommand performs one command/reply cycle against the control socket.
func sendCommand(command string) (string, error) {
	conn, err := net.Dial("unix", controlSocket)
	if err != nil {
		return "", fmt.Errorf("unable to connect to %s: %w", controlSocket, err)
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", err
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}
	return string(reply), nil
}

func renderList(reply, valueHeader string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	header := table.Row{"address", valueHeader}
	if resolveNames {
		header = append(header, "name")
	}
	t.AppendHeader(header)
	for _, line := range strings.Split(reply, "\n") {
		if line == "" {
			continue
		}
		addr, value, _ := strings.Cut(line, "\t")
		row := table.Row{addr, value}
		if resolveNames {
			row = append(row, resolvePTR(addr))
		}
		t.AppendRow(row)
	}
	t.Render()
}

// resolvePTR looks up the reverse record via the system resolver. Best
// effort, listing must not fail because DNS is unavailable.
func resolvePTR(addr string) string {
	rev, err := dns.ReverseAddr(addr)
	if err != nil {
		return ""
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return ""
	}
	m := new(dns.Msg)
	m.SetQuestion(rev, dns.TypePTR)
	in, err := dns.Exchange(m, net.JoinHostPort(conf.Servers[0], conf.Port))
	if err != nil {
		return ""
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}
