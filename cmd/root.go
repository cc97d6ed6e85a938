// Package cmd implements all CLI commands for the probe daemon.
package cmd

import (
	"fmt"
	"os"

	"github.com/bitforge/swdprobe/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Global configuration instance
	cfg *config.Config

	// Global flags
	listenFlag string
	serialFlag string
	quietFlag  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "swdprobe",
	Short: "swdprobe - a GDB remote debug server for RP2040-class SWD targets",
	Long: `swdprobe bit-bangs ARM Serial Wire Debug over a pair of GPIO pins and
exposes the attached dual-core Cortex-M0+ target to GDB over TCP or a
USB-CDC serial port.

It enables halting and resuming either core, reading and writing memory and
registers, setting hardware and software breakpoints, and programming
on-board flash through the target's own ROM routines.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if listenFlag != "" {
			cfg.ListenTCP = listenFlag
		}
		if serialFlag != "" {
			cfg.SerialPort = serialFlag
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&listenFlag, "listen", "", "TCP bind address for the GDB remote server (e.g. :2331)")
	rootCmd.PersistentFlags().StringVar(&serialFlag, "serial", "", "USB-CDC serial port to also serve on")
	rootCmd.PersistentFlags().BoolVar(&quietFlag, "quiet", false, "Suppress informational output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// printInfo prints output that respects quiet mode.
func printInfo(format string, args ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, args...)
	}
}

// printError prints an error message, always shown.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
