package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/controller"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// scanTimeout bounds the discover command.
const scanTimeout = 5 * time.Second

// Shell is the interactive command interface of matterctl.
type Shell struct {
	ctl     *controller.Controller
	scanner discovery.Scanner
	config  Config
	out     io.Writer

	// devices is the result of the last discover command, addressed as #N.
	devices []discovery.CommissionableDevice
}

// NewShell creates a shell writing to out.
func NewShell(ctl *controller.Controller, scanner discovery.Scanner, config Config, out io.Writer) *Shell {
	return &Shell{ctl: ctl, scanner: scanner, config: config, out: out}
}

// Run reads commands until quit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "matter> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("matterctl: readline: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	s.printHelp()
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		if s.Execute(ctx, line) {
			return nil
		}
	}
	return nil
}

// Execute runs one command line and reports whether the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "discover", "d":
		err = s.cmdDiscover(ctx, args)
	case "commission", "c":
		err = s.cmdCommission(ctx, args)
	case "nodes", "list", "ls":
		s.cmdNodes()
	case "connect":
		err = s.withNode(args, func(id fabric.NodeID) error {
			ch, err := s.ctl.Connect(ctx, id)
			if err == nil {
				fmt.Fprintf(s.out, "Connected to %s over %s\n", id, ch.Name())
			}
			return err
		})
	case "disconnect":
		err = s.withNode(args, func(id fabric.NodeID) error { return s.ctl.Disconnect(ctx, id) })
	case "remove", "rm":
		err = s.withNode(args, s.ctl.RemoveNode)
	case "window":
		err = s.cmdWindow(ctx, args)
	case "status":
		s.cmdStatus()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  discover [discriminator]          - Scan for commissionable devices
  commission <code> [ip:port]       - Commission with a QR or manual pairing code
  commission <passcode> <disc|#N> [ip:port]
                                    - Commission by passcode and discriminator or scan result
  nodes                             - List commissioned nodes
  connect <node>                    - Open a CASE session to a node
  disconnect <node>                 - Close the session, keep resumption data
  remove <node>                     - Forget a node
  window <node> [duration]          - Open a commissioning window on a node
  status                            - Show controller status
  quit                              - Exit`)
}

func (s *Shell) cmdDiscover(ctx context.Context, args []string) error {
	var id discovery.Identifier
	if len(args) > 0 {
		d, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid discriminator %q", args[0])
		}
		id = discovery.LongDiscriminator(uint16(d))
	}

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()
	devices, err := s.scanner.FindCommissionableDevices(ctx, id)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if len(devices) == 0 {
		devices = s.scanner.GetDiscoveredCommissionableDevices(id)
	}
	s.devices = devices

	if len(devices) == 0 {
		fmt.Fprintln(s.out, "No commissionable devices found")
		return nil
	}
	for i, d := range devices {
		fmt.Fprintf(s.out, "#%d %-24q discriminator=%-4d vendor=0x%04X product=0x%04X %v\n",
			i, d.DeviceName, d.Discriminator, d.VendorID, d.ProductID, d.Addresses)
	}
	return nil
}

func (s *Shell) cmdCommission(ctx context.Context, args []string) error {
	options, err := s.config.commissionOptions()
	if err != nil {
		return err
	}
	if err := s.parseCommissionArgs(args, &options); err != nil {
		return err
	}
	options.OnStateChanged = func(state commissioning.State) {
		fmt.Fprintf(s.out, "  %s\n", state)
	}

	nodeID, err := s.ctl.Commission(ctx, options)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Commissioned %s\n", nodeID)
	return nil
}

// parseCommissionArgs fills options from a pairing code or from a
// passcode and discriminator. A trailing ip:port becomes the known address.
func (s *Shell) parseCommissionArgs(args []string, options *controller.CommissionOptions) error {
	if len(args) == 0 {
		return errors.New("usage: commission <code> [ip:port] | commission <passcode> <disc|#N> [ip:port]")
	}

	rest := args[1:]
	if p, err := payload.Parse(args[0]); err == nil {
		options.Passcode = p.Passcode
		if p.ShortDiscriminator {
			options.Identifier = discovery.ShortDiscriminatorID(p.ShortValue())
		} else {
			options.Identifier = discovery.LongDiscriminator(p.Discriminator)
		}
		options.Capabilities = p.Capabilities
	} else {
		passcode, perr := strconv.ParseUint(args[0], 10, 32)
		if perr != nil {
			return fmt.Errorf("%q is neither a pairing code nor a passcode: %w", args[0], err)
		}
		if len(rest) == 0 {
			return errors.New("a passcode needs a discriminator or a #N scan result")
		}
		options.Passcode = uint32(passcode)
		if err := s.parseTarget(rest[0], options); err != nil {
			return err
		}
		rest = rest[1:]
	}

	if len(rest) > 0 {
		addr, err := transport.ParseUDPAddress(rest[0])
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", rest[0], err)
		}
		options.KnownAddress = &addr
	}
	return nil
}

func (s *Shell) parseTarget(arg string, options *controller.CommissionOptions) error {
	if index, ok := strings.CutPrefix(arg, "#"); ok {
		i, err := strconv.Atoi(index)
		if err != nil || i < 0 || i >= len(s.devices) {
			return fmt.Errorf("no scan result %s, run discover first", arg)
		}
		d := s.devices[i]
		options.Device = &d
		return nil
	}
	d, err := strconv.ParseUint(arg, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid discriminator %q", arg)
	}
	options.Identifier = discovery.LongDiscriminator(uint16(d))
	return nil
}

func (s *Shell) cmdNodes() {
	nodes := s.ctl.GetCommissionedNodes()
	if len(nodes) == 0 {
		fmt.Fprintln(s.out, "No commissioned nodes")
		return
	}
	for _, id := range nodes {
		addr := "unknown address"
		if d, ok := s.ctl.GetCommissionedNodeDetails(id); ok && d.OperationalAddress != nil {
			addr = d.OperationalAddress.String()
		}
		fmt.Fprintf(s.out, "0x%016X  %s\n", uint64(id), addr)
	}
}

func (s *Shell) cmdWindow(ctx context.Context, args []string) error {
	timeout := commissioning.MinWindowTimeout
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return err
		}
		timeout = d
	}
	return s.withNode(args, func(id fabric.NodeID) error {
		if err := s.ctl.OpenCommissioningWindow(ctx, id, timeout); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Commissioning window open on %s for %s\n", id, timeout)
		return nil
	})
}

func (s *Shell) cmdStatus() {
	f := s.ctl.Fabric()
	fmt.Fprintf(s.out, "Controller:  %s\n", s.ctl.NodeID())
	fmt.Fprintf(s.out, "Fabric:      %s\n", f)
	fmt.Fprintf(s.out, "Started:     %t\n", s.ctl.IsStarted())
	if s.ctl.IsStarted() {
		fmt.Fprintf(s.out, "Address:     %s\n", s.ctl.Address())
	}
	fmt.Fprintf(s.out, "Nodes:       %d\n", len(s.ctl.GetCommissionedNodes()))
}

func (s *Shell) withNode(args []string, fn func(fabric.NodeID) error) error {
	if len(args) == 0 {
		return errors.New("missing node ID")
	}
	id, err := parseNodeID(args[0])
	if err != nil {
		return err
	}
	return fn(id)
}

// parseNodeID accepts decimal or 0x-prefixed hex operational node IDs.
func parseNodeID(s string) (fabric.NodeID, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node ID %q", s)
	}
	id := fabric.NodeID(v)
	if !id.IsOperational() {
		return 0, fmt.Errorf("%s is not an operational node ID", id)
	}
	return id, nil
}
