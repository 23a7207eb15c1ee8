// matter-device is a commissionable Matter device node.
//
// It advertises itself over mDNS, accepts PASE with its setup passcode,
// takes operational credentials from a commissioner and then answers CASE
// on its fabrics.
//
// Usage:
//
//	matter-device [options]
//
// Options:
//
//	-listen        IP address to bind (default: all interfaces)
//	-port          UDP port (default: 5540)
//	-discriminator 12-bit discriminator (default: random, persisted)
//	-passcode      Setup passcode (default: random, persisted)
//	-storage       State file (default: in-memory)
//	-name          Device name (default: "Matter Device")
//	-vendor        Vendor ID (default: 0xFFF1)
//	-product       Product ID (default: 0x8001)
//	-window        Commissioning window timeout (default: until commissioned)
//	-metrics       Address serving Prometheus /metrics (default: disabled)
//	-log-level     Log level (default: info)
//
// Example:
//
//	matter-device -port 5540 -discriminator 1234 -passcode 20202021 -storage device.state
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Orzech99/matter.js/internal/zaplog"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/matter"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/storage"
)

func main() {
	opts, err := ParseFlags()
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := zaplog.New(opts.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(opts, logger); err != nil {
		logger.Fatal("Device error", zap.Error(err))
	}
}

// run starts the node and blocks until SIGINT or SIGTERM.
func run(opts Options, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backend storage.Backend = storage.NewMemoryBackend()
	if opts.StoragePath != "" {
		fb, err := storage.OpenFileBackend(opts.StoragePath)
		if err != nil {
			return err
		}
		backend = fb
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	node, err := matter.NewNode(matter.NodeConfig{
		VendorID:      opts.VendorID,
		ProductID:     opts.ProductID,
		DeviceName:    opts.DeviceName,
		ListenIP:      opts.ListenIP,
		Port:          opts.Port,
		Discriminator: opts.Discriminator,
		Passcode:      opts.Passcode,
		WindowTimeout: opts.WindowTimeout,
		Storage:       backend,
		OnStateChanged: func(state matter.NodeState) {
			logger.Info("State changed", zap.Stringer("state", state))
		},
		OnCommissioned: func(f *fabric.Fabric) {
			logger.Info("Commissioned", zap.Stringer("fabric", f), zap.Stringer("node", f.NodeID()))
		},
		Metrics:       m,
		LoggerFactory: zaplog.NewFactory(logger),
	})
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("Serving metrics", zap.String("addr", opts.MetricsAddr))
	}

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	if err := printOnboardingInfo(node, opts.DeviceName); err != nil {
		logger.Warn("Onboarding info", zap.Error(err))
	}

	<-ctx.Done()

	logger.Info("Shutting down")
	if err := node.Stop(); err != nil {
		return fmt.Errorf("stop node: %w", err)
	}
	return nil
}

// printOnboardingInfo prints the pairing codes to the console.
func printOnboardingInfo(node *matter.Node, name string) error {
	info, err := node.GetSetupInfo()
	if err != nil {
		return err
	}

	fmt.Println("\n========================================")
	fmt.Println("          Matter Device Ready")
	fmt.Println("========================================")
	fmt.Printf("Device Name:    %s\n", name)
	fmt.Printf("State:          %s\n", node.State())
	fmt.Printf("Port:           %d\n", info.Port)
	fmt.Printf("Discriminator:  %d\n", info.Discriminator)
	fmt.Printf("Passcode:       %08d\n", info.Passcode)
	fmt.Println("----------------------------------------")
	fmt.Printf("QR Code:        %s\n", info.QRCode)
	fmt.Printf("Manual Code:    %s\n", info.ManualCode)
	fmt.Println("========================================")
	return nil
}
