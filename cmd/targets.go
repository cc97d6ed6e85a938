package cmd

import (
	"fmt"

	"github.com/bitforge/swdprobe/pkg/flash"
	"github.com/bitforge/swdprobe/pkg/util"
	"github.com/spf13/cobra"
	"go.bug.st/serial"
)

var (
	dumpAddress string
	dumpCount   string
)

// listPortsCmd represents the list-ports command
var listPortsCmd = &cobra.Command{
	Use:   "list-ports",
	Short: "List available serial ports",
	Long: `List all available serial ports on the system.

This helps identify which port to pass via --serial to serve a GDB session
over USB-CDC instead of, or alongside, TCP.

Example:
  swdprobe list-ports`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listPorts()
	},
}

// dumpCmd represents the memory dump command
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Read and display memory from core 0",
	Long: `Bring up the target and read a block of memory from core 0, displaying
it in hex dump format. Useful for sanity-checking the SWD link without
attaching a full GDB session.

Example:
  swdprobe dump --address 20000000 --count 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpMemory()
	},
}

// eraseCmd represents the flash erase command
var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the entire on-board flash",
	Long: `Erase the entire flash region through the target's own ROM erase
routine.

This is a destructive operation that cannot be undone.

Example:
  swdprobe erase`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return eraseFlash()
	},
}

// flashCmd represents the flash programming command
var flashCmd = &cobra.Command{
	Use:   "flash <binfile>",
	Short: "Program the on-board flash from a binary file",
	Long: `Stage a binary file's contents and program them into flash through the
target's ROM flash routines, then verify the result with a CRC32 check
against what was read back.

This will overwrite flash memory.

Example:
  swdprobe flash firmware.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return flashProgram(args[0])
	},
}

func init() {
	rootCmd.AddCommand(listPortsCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(eraseCmd)
	rootCmd.AddCommand(flashCmd)

	dumpCmd.Flags().StringVar(&dumpAddress, "address", "20000000", "Starting address (hex, e.g., 20000000)")
	dumpCmd.Flags().StringVar(&dumpCount, "count", "100", "Number of bytes to read (hex, e.g., 100)")
}

func listPorts() error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("failed to get port list: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	fmt.Println("Available serial ports:")
	for _, port := range ports {
		fmt.Printf("  %s\n", port)
	}
	return nil
}

func dumpMemory() error {
	addr, err := util.ParseHexAddress(dumpAddress)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	count, err := util.ParseHexSize(dumpCount)
	if err != nil {
		return fmt.Errorf("invalid count: %w", err)
	}

	tgt, err := bringUpTarget(cfg)
	if err != nil {
		return err
	}

	data, err := tgt.Mem[0].ReadBytes(addr, int(count))
	if err != nil {
		return fmt.Errorf("failed to read memory: %w", err)
	}
	util.HexDump(data, addr)
	return nil
}

func eraseFlash() error {
	if !util.ConfirmDanger("You are about to ERASE the entire flash memory") {
		printInfo("Operation cancelled.\n")
		return nil
	}

	tgt, err := bringUpTarget(cfg)
	if err != nil {
		return err
	}

	printInfo("Erasing flash memory...\n")
	if err := tgt.Flash.Erase(flash.XIPBase, cfg.FlashSize()); err != nil {
		return fmt.Errorf("flash erase failed: %w", err)
	}
	printInfo("Flash memory erased successfully.\n")
	return nil
}

func flashProgram(filename string) error {
	data, err := util.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	want := util.CalculateCRC32(data)
	printInfo("About to program %d bytes to flash (crc32 %08x)\n", len(data), want)

	if !util.Confirm("Are you sure you want to reprogram the flash memory? (y/n): ") {
		printInfo("Operation cancelled.\n")
		return nil
	}

	tgt, err := bringUpTarget(cfg)
	if err != nil {
		return err
	}

	printInfo("Erasing flash region...\n")
	if err := tgt.Flash.Erase(flash.XIPBase, uint32(len(data))); err != nil {
		return fmt.Errorf("flash erase failed: %w", err)
	}

	printInfo("Staging and programming flash...\n")
	tgt.Flash.Stage(flash.XIPBase, data)
	if err := tgt.Flash.Commit(); err != nil {
		return fmt.Errorf("flash programming failed: %w", err)
	}

	readback, err := tgt.Mem[0].ReadBytes(flash.XIPBase, len(data))
	if err != nil {
		return fmt.Errorf("failed to read back flash for verification: %w", err)
	}
	got := util.CalculateCRC32(readback)
	if got != want {
		return fmt.Errorf("flash verification failed: crc32 %08x, want %08x", got, want)
	}

	printInfo("Flash programming complete and verified.\n")
	return nil
}
