// matterctl is an interactive Matter controller.
//
// It keeps its own fabric, commissions devices onto it and opens CASE
// sessions to commissioned nodes. State survives restarts when a storage
// file is configured.
//
// Usage:
//
//	matterctl [flags]
//
// Flags:
//
//	-config string     YAML configuration file
//	-storage string    State file, overrides the configuration (default: in-memory)
//	-listen string     Local UDP address, overrides the configuration (default ":0")
//	-log-level string  Log level: trace, debug, info, warn, error (default "info")
//
// Example:
//
//	matterctl -storage controller.state
//	matter> discover
//	matter> commission 34970112332
//	matter> nodes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Orzech99/matter.js/internal/zaplog"
	"github.com/Orzech99/matter.js/pkg/controller"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/storage"
)

type flags struct {
	configPath string
	storage    string
	listen     string
	logLevel   string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("matterctl", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.storage, "storage", "", "State file (empty = in-memory)")
	fs.StringVar(&f.listen, "listen", "", "Local UDP address (default \":0\")")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	err := fs.Parse(args)
	return f, err
}

// apply overrides the file with the flags that were set.
func (f flags) apply(c *Config) {
	if f.storage != "" {
		c.Storage = f.storage
	}
	if f.listen != "" {
		c.Listen = f.listen
	}
	if f.logLevel != "" {
		c.LogLevel = f.logLevel
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	config, err := LoadConfig(f.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	f.apply(&config)

	logger, err := zaplog.New(config.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(config, logger); err != nil {
		logger.Fatal("Controller error", zap.Error(err))
	}
}

func run(config Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backend storage.Backend = storage.NewMemoryBackend()
	if config.Storage != "" {
		fb, err := storage.OpenFileBackend(config.Storage)
		if err != nil {
			return err
		}
		backend = fb
	}
	defer backend.Close()

	lf := zaplog.NewFactory(logger)
	scanner, err := discovery.NewMDNSScanner(discovery.MDNSScannerConfig{LoggerFactory: lf})
	if err != nil {
		return err
	}
	defer scanner.Close()

	cc := config.controllerConfig()
	cc.Storage = backend
	cc.Scanner = scanner
	cc.LoggerFactory = lf
	ctl, err := controller.NewController(cc)
	if err != nil {
		return err
	}
	if err := ctl.Start(); err != nil {
		return err
	}
	defer ctl.Stop()

	cancel := ctl.OnPeerDisconnected(func(id fabric.NodeID) {
		logger.Info("Peer disconnected", zap.Stringer("node", id))
	})
	defer cancel()

	logger.Info("Controller started",
		zap.Stringer("node", ctl.NodeID()),
		zap.Stringer("address", ctl.Address()),
		zap.Int("nodes", len(ctl.GetCommissionedNodes())))

	return NewShell(ctl, scanner, config, os.Stdout).Run(ctx)
}
