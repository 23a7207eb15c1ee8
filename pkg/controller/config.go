package controller

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	pionnet "github.com/pion/transport/v3"

	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/storage"
)

// Default configuration values.
const (
	DefaultAdminVendorID    = fabric.VendorIDTestVendor1
	DefaultAdminFabricID    = fabric.FabricID(1)
	DefaultAdminFabricIndex = fabric.FabricIndex(1)

	// DefaultListenAddr lets the operating system pick the port.
	DefaultListenAddr = ":0"

	// DefaultDiscoveryTimeout bounds commissionable discovery.
	DefaultDiscoveryTimeout = 30 * time.Second

	// DefaultReconnectInterval is how often the last known address of an
	// unreachable node is polled while operational discovery runs.
	DefaultReconnectInterval = 10 * time.Minute
)

const (
	// commissioningReconnectTimeout bounds the search for a freshly
	// commissioned node on its operational network.
	commissioningReconnectTimeout = 120 * time.Second

	// channelReconnectTimeout bounds Reconnect.
	channelReconnectTimeout = 60 * time.Second

	// closeSessionTimeout bounds the CloseSession report sent by Disconnect.
	closeSessionTimeout = 2 * time.Second
)

// Storage keys of the MatterController context.
const (
	storageKeyFabric            = "fabric"
	storageKeyCommissionedNodes = "commissionedNodes"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Storage persists the controller fabric, the root certificate
	// authority, the commissioned nodes and resumption records.
	// Default: memory.
	Storage storage.Backend

	// Net is the network stack. Default: the host network. Tests inject a
	// vnet.Net.
	Net pionnet.Net

	// ListenAddr is the local UDP address. Default: DefaultListenAddr.
	ListenAddr string

	// Scanner discovers devices on the IP network. Default: an
	// MDNSScanner over zeroconf, closed with the controller.
	Scanner discovery.Scanner

	// BLE gives access to a host BLE stack. Nil means BLE is not
	// available; commissioning over BLE is then skipped with a warning.
	BLE BLEProvider

	// Identity of a newly created controller fabric. A fabric restored
	// from Storage keeps its own values.
	AdminVendorID    fabric.VendorID
	AdminFabricID    fabric.FabricID
	AdminFabricIndex fabric.FabricIndex

	// Params are the local MRP parameters. Zero fields use the defaults.
	Params session.Params

	// ReconnectInterval is the polling period of the last known address
	// while a node is rediscovered. Default: DefaultReconnectInterval.
	ReconnectInterval time.Duration

	Clock         clock.Clock
	Metrics       *metrics.Metrics
	LoggerFactory logging.LoggerFactory
}

// WithDefaults returns a copy where unset fields take their default. The
// default scanner is created by NewController.
func (c ControllerConfig) WithDefaults() ControllerConfig {
	if c.Storage == nil {
		c.Storage = storage.NewMemoryBackend()
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.AdminVendorID == fabric.VendorIDUnspecified {
		c.AdminVendorID = DefaultAdminVendorID
	}
	if c.AdminFabricID == fabric.FabricIDInvalid {
		c.AdminFabricID = DefaultAdminFabricID
	}
	if c.AdminFabricIndex == fabric.FabricIndexInvalid {
		c.AdminFabricIndex = DefaultAdminFabricIndex
	}
	c.Params = c.Params.WithDefaults()
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}

// Validate checks the configuration.
func (c *ControllerConfig) Validate() error {
	const op = "controller.Config"
	if !c.AdminFabricIndex.IsValid() {
		return errs.Errorf(errs.KindValidation, op, "invalid fabric index %d", c.AdminFabricIndex)
	}
	if !c.AdminFabricID.IsValid() {
		return errs.Errorf(errs.KindValidation, op, "invalid fabric ID %s", c.AdminFabricID)
	}
	if c.ReconnectInterval < 0 {
		return errs.Errorf(errs.KindValidation, op, "negative reconnect interval %s", c.ReconnectInterval)
	}
	if err := c.Params.Validate(); err != nil {
		return errs.E(errs.KindValidation, op, err)
	}
	return nil
}
