// Command ringkv runs a gossip-membership key-value store, either as a
// deterministic in-process simulation or as a real node on the network.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
