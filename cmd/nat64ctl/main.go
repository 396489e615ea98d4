// nat64ctl -- CLI client for the nat64d control channel.
package main

import "github.com/dantte-lp/gonat64/cmd/nat64ctl/commands"

func main() {
	commands.Execute()
}
