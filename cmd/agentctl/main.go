// Command agentctl is the operator CLI for the agentcore daemons: it
// queries agentd's ledger and memory, verifies the hash chain, and
// dumps daemon health over their control sockets.
package main

import "github.com/tutu-network/agentcore/internal/agentctl"

var version = "dev"

func main() {
	agentctl.Execute(version)
}
