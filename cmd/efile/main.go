// Command efile builds, validates, signs and transmits individual income tax
// returns, and runs the operations server that tracks them through MeF.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
