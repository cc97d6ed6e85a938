// swdprobe is a GDB remote debug server for RP2040-class SWD targets.
//
// It bit-bangs ARM Serial Wire Debug over GPIO, drives the DP/AP
// transaction layer and dual-core Cortex-M0+ debug control, and exposes
// the result as a GDB remote protocol server over TCP and USB-CDC serial.
package main

import (
	"fmt"
	"os"

	"github.com/bitforge/swdprobe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
