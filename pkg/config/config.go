// Package config provides configuration management for swdprobe.
// It reads settings from probe.ini using multiple search paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

// Config holds all runtime configuration for the probe daemon.
type Config struct {
	// Transport settings
	ListenTCP  string // TCP bind address for the remote debug server, e.g. ":2331"
	SerialPort string // USB-CDC serial device to also serve on, empty to disable
	PacketSize int    // max GDB packet payload advertised via qSupported

	// Wire transceiver settings
	ClockDividerHz int    // target SWCLK frequency in Hz
	WaitRetries    int    // WAIT-response retry budget for raw_transaction
	SWCLKPin       string // periph.io GPIO name driving SWCLK
	SWDIOPin       string // periph.io GPIO name driving/sampling SWDIO

	// CPU debug control settings
	TrampolineSP    uint32 // stack pointer used for ROM trampoline calls (target SRAM)
	FlashScratchRAM uint32 // SRAM scratch buffer vFlashWrite data is staged through before a ROM range_program call

	// Target identification (multi-drop target-select IDs for core0/core1)
	TargetIDCore0 uint32
	TargetIDCore1 uint32

	// flashSizeBytes is the size of the whole-chip erase the CLI's erase
	// command performs, reported through FlashSize().
	flashSizeBytes uint32
}

// FlashSize returns the whole-chip erase size a bare "erase" command
// covers, matching the memory-map GDB's "load" command is told about.
func (c *Config) FlashSize() uint32 { return c.flashSizeBytes }

// Load reads configuration from probe.ini in the following search order:
// 1. Current directory (./probe.ini)
// 2. $PROBE_CONFIG directory ($PROBE_CONFIG/probe.ini)
// 3. Home directory (~/probe.ini)
//
// A missing file at every path is not an error: built-in defaults for an
// RP2040-class target are returned instead.
func Load() (*Config, error) {
	var searchPaths []string

	searchPaths = append(searchPaths, filepath.Join(".", "probe.ini"))

	if dir := os.Getenv("PROBE_CONFIG"); dir != "" {
		searchPaths = append(searchPaths, filepath.Join(dir, "probe.ini"))
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, "probe.ini"))
	}

	cfg := defaults()

	var iniFile *ini.File
	var err error
	for _, path := range searchPaths {
		if _, statErr := os.Stat(path); statErr == nil {
			iniFile, err = ini.Load(path)
			if err == nil {
				break
			}
		}
	}

	if iniFile == nil {
		return cfg, nil
	}

	section := iniFile.Section("DEFAULT")
	cfg.ListenTCP = section.Key("listen_tcp").MustString(cfg.ListenTCP)
	cfg.SerialPort = section.Key("serial_port").MustString(cfg.SerialPort)
	cfg.PacketSize = section.Key("packet_size").MustInt(cfg.PacketSize)
	cfg.ClockDividerHz = section.Key("clock_hz").MustInt(cfg.ClockDividerHz)
	cfg.WaitRetries = section.Key("wait_retries").MustInt(cfg.WaitRetries)
	cfg.SWCLKPin = section.Key("swclk_pin").MustString(cfg.SWCLKPin)
	cfg.SWDIOPin = section.Key("swdio_pin").MustString(cfg.SWDIOPin)

	cfg.TrampolineSP = uint32(section.Key("trampoline_sp").MustUint64(uint64(cfg.TrampolineSP)))
	cfg.FlashScratchRAM = uint32(section.Key("flash_scratch_ram").MustUint64(uint64(cfg.FlashScratchRAM)))
	cfg.TargetIDCore0 = uint32(section.Key("target_id_core0").MustUint64(uint64(cfg.TargetIDCore0)))
	cfg.TargetIDCore1 = uint32(section.Key("target_id_core1").MustUint64(uint64(cfg.TargetIDCore1)))
	cfg.flashSizeBytes = uint32(section.Key("flash_size").MustUint64(uint64(cfg.flashSizeBytes)))

	return cfg, nil
}

// defaults returns the built-in configuration for an RP2040-class dual-core
// Cortex-M0+ target.
func defaults() *Config {
	return &Config{
		ListenTCP:      ":2331",
		SerialPort:     "",
		PacketSize:     0x4000,
		ClockDividerHz:  4_000_000,
		WaitRetries:     10,
		SWCLKPin:        "GPIO2",
		SWDIOPin:        "GPIO3",
		TrampolineSP:    0x20040800,
		FlashScratchRAM: 0x20001000,
		TargetIDCore0:   0x01002927,
		TargetIDCore1:   0x11002927,
		flashSizeBytes:  0x200000,
	}
}

// ConfigPath returns the path to the config file that would be loaded, if any.
func ConfigPath() (string, error) {
	paths := []string{filepath.Join(".", "probe.ini")}

	if dir := os.Getenv("PROBE_CONFIG"); dir != "" {
		paths = append(paths, filepath.Join(dir, "probe.ini"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "probe.ini"))
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no probe.ini file found")
}
