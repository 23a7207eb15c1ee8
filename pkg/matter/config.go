package matter

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"
	pionnet "github.com/pion/transport/v3"

	"github.com/Orzech99/matter.js/pkg/commissioning"
	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/storage"
	"github.com/Orzech99/matter.js/pkg/transport"
)

// DefaultPort is the default Matter port.
const DefaultPort = transport.DefaultPort

// DefaultPBKDFIterations is used for the PASE verifier of a new node.
const DefaultPBKDFIterations = 1000

// NodeConfig holds all configuration for a device Node.
type NodeConfig struct {
	// Identity - Required
	VendorID  fabric.VendorID // Vendor ID (assigned by CSA)
	ProductID uint16          // Product ID (vendor-assigned)

	// DeviceName is announced in the commissionable record (max 32 chars).
	DeviceName string

	// Network
	ListenIP string // Address to bind (default: all interfaces)
	Port     uint16 // UDP port (default: 5540)

	// Net is the network stack. Default: the host network. Tests inject a
	// vnet.Net.
	Net pionnet.Net

	// Commissioning. Zero values draw a random discriminator and passcode
	// once and persist them in Storage.
	Discriminator uint16
	Passcode      uint32

	// WindowTimeout bounds the commissioning window opened by Start on an
	// uncommissioned node. Zero keeps it open until commissioned.
	WindowTimeout time.Duration

	// NetworkFeatures selects the network commissioning capabilities.
	// Default: Ethernet.
	NetworkFeatures commissioning.NetworkFeatures

	// ConnectNetwork joins a provisioned Wi-Fi or Thread network.
	ConnectNetwork commissioning.ConnectFunc

	// Regulatory configures the regulatory capability. The zero value is
	// an IndoorOutdoor device accepting any country.
	Regulatory commissioning.RegulatoryOptions

	// MaxFabrics bounds the fabric table. Default: fabric.DefaultSupportedFabrics.
	MaxFabrics uint8

	// Storage persists fabrics, resumption records and the setup identity.
	// Default: memory.
	Storage storage.Backend

	// Params are the local MRP parameters. Zero fields use the defaults.
	Params session.Params

	// Registrar publishes DNS-SD records. Default: zeroconf.
	Registrar discovery.MDNSRegistrar

	// Callbacks - Optional
	OnStateChanged func(state NodeState)
	OnCommissioned func(f *fabric.Fabric)

	Clock         clock.Clock
	Metrics       *metrics.Metrics
	LoggerFactory logging.LoggerFactory
}

// WithDefaults returns a copy where unset fields take their default.
// Passcode and discriminator stay zero; the node resolves them from
// storage or draws them at random.
func (c NodeConfig) WithDefaults() NodeConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.NetworkFeatures == 0 {
		c.NetworkFeatures = commissioning.NetworkFeatureEthernet
	}
	if c.Regulatory.LocationCapability == 0 && c.Regulatory.Initial == (commissioning.RegulatoryConfig{}) {
		c.Regulatory.LocationCapability = commissioning.RegulatoryIndoorOutdoor
		c.Regulatory.AllowCountryCodeChange = true
	}
	if c.Storage == nil {
		c.Storage = storage.NewMemoryBackend()
	}
	c.Params = c.Params.WithDefaults()
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if len(c.DeviceName) > discovery.MaxDeviceNameLength {
		c.DeviceName = c.DeviceName[:discovery.MaxDeviceNameLength]
	}
	return c
}

// Validate checks the configuration. A set passcode must not be one of
// the forbidden values.
func (c *NodeConfig) Validate() error {
	const op = "matter.NodeConfig"
	if c.VendorID == fabric.VendorIDUnspecified {
		return errs.E(errs.KindValidation, op, ErrInvalidVendorID)
	}
	if c.ProductID == 0 {
		return errs.E(errs.KindValidation, op, ErrInvalidProductID)
	}
	if err := payload.ValidateDiscriminator(c.Discriminator); err != nil {
		return errs.E(errs.KindValidation, op, ErrInvalidDiscriminator)
	}
	if c.Passcode != 0 && !IsValidPasscode(c.Passcode) {
		return errs.Errorf(errs.KindValidation, op, "%w: %08d", ErrInvalidPasscode, c.Passcode)
	}
	if c.WindowTimeout < 0 || c.WindowTimeout > commissioning.MaxWindowTimeout {
		return errs.Errorf(errs.KindValidation, op, "window timeout %s out of range", c.WindowTimeout)
	}
	if err := c.Params.Validate(); err != nil {
		return errs.E(errs.KindValidation, op, err)
	}
	return nil
}
