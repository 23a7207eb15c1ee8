package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/matter"
)

// Options holds the command-line flags.
type Options struct {
	ListenIP string
	Port     uint16

	// Discriminator and Passcode left at zero are drawn at random on first
	// start and kept in storage.
	Discriminator uint16
	Passcode      uint32

	// StoragePath is the state file. Empty keeps state in memory.
	StoragePath string

	DeviceName string
	VendorID   fabric.VendorID
	ProductID  uint16

	// WindowTimeout bounds the initial commissioning window. Zero keeps it
	// open until commissioned.
	WindowTimeout time.Duration

	// MetricsAddr serves Prometheus metrics on /metrics. Empty disables it.
	MetricsAddr string

	LogLevel string
}

// DefaultOptions returns the defaults of every flag.
func DefaultOptions() Options {
	return Options{
		Port:       matter.DefaultPort,
		DeviceName: "Matter Device",
		VendorID:   fabric.VendorIDTestVendor1,
		ProductID:  0x8001,
		LogLevel:   "info",
	}
}

// ParseFlags parses os.Args into Options.
func ParseFlags() (Options, error) {
	o := DefaultOptions()
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	fs.StringVar(&o.ListenIP, "listen", o.ListenIP, "IP address to bind (default: all interfaces)")
	fs.Func("port", fmt.Sprintf("UDP port (default: %d)", o.Port), func(s string) error {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return err
		}
		o.Port = uint16(v)
		return nil
	})
	fs.Func("discriminator", "12-bit discriminator (default: random, persisted)", func(s string) error {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return err
		}
		if err := payload.ValidateDiscriminator(uint16(v)); err != nil {
			return err
		}
		o.Discriminator = uint16(v)
		return nil
	})
	fs.Func("passcode", "Setup passcode (default: random, persisted)", func(s string) error {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		if err := payload.ValidatePasscode(uint32(v)); err != nil {
			return err
		}
		o.Passcode = uint32(v)
		return nil
	})
	fs.StringVar(&o.StoragePath, "storage", "", "State file (empty = in-memory)")
	fs.StringVar(&o.DeviceName, "name", o.DeviceName, "Device name")
	fs.Func("vendor", fmt.Sprintf("Vendor ID (default: 0x%04X)", uint16(o.VendorID)), func(s string) error {
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return err
		}
		o.VendorID = fabric.VendorID(v)
		return nil
	})
	fs.Func("product", fmt.Sprintf("Product ID (default: 0x%04X)", o.ProductID), func(s string) error {
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return err
		}
		o.ProductID = uint16(v)
		return nil
	})
	fs.DurationVar(&o.WindowTimeout, "window", 0, "Commissioning window timeout (0 = until commissioned)")
	fs.StringVar(&o.MetricsAddr, "metrics", "", "Address serving /metrics, e.g. :9100 (empty = disabled)")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Log level: trace, debug, info, warn, error")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Options{}, err
	}
	return o, nil
}
