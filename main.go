package main

import "github.com/moolen/pktwatch/cmd"

func main() {
	cmd.Execute()
}
