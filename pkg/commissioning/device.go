package commissioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/im"
	"github.com/Orzech99/matter.js/pkg/session"
)

// DeviceConfig configures the device role of commissioning.
type DeviceConfig struct {
	// Credentials is required.
	Credentials OperationalCredentials

	// FailSafe defaults to a FailSafeTimer on Clock.
	FailSafe FailSafe

	// Regulatory defaults to an IndoorOutdoor device at Outdoor/"XX" that
	// accepts any country.
	Regulatory Regulatory

	// Network defaults to an Ethernet device.
	Network NetworkCommissioning

	// Window is optional. Without it the Administrator Commissioning
	// commands are not served.
	Window CommissioningWindow

	// OnCommissioned runs after CommissioningComplete with the committed
	// fabric.
	OnCommissioned func(*fabric.Fabric)

	// Clock defaults to the wall clock.
	Clock clock.Clock

	LoggerFactory logging.LoggerFactory
}

// Device serves the commissioning clusters from its capabilities.
//
// Usage:
//
//	dev, _ := commissioning.NewDevice(commissioning.DeviceConfig{Credentials: store})
//	dev.Register(imServer)
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	log         logging.LeveledLogger
	failSafe    FailSafe
	regulatory  Regulatory
	network     NetworkCommissioning
	credentials OperationalCredentials
	window      CommissioningWindow
	onDone      func(*fabric.Fabric)

	mu         sync.Mutex
	breadcrumb uint64

	cancelExpire func()
}

// NewDevice validates config and wires the fail-safe rollback.
func NewDevice(config DeviceConfig) (*Device, error) {
	if config.Credentials == nil {
		return nil, errs.New(errs.KindImplementation, "commissioning: Credentials is required")
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.FailSafe == nil {
		config.FailSafe = NewFailSafeTimer(FailSafeConfig{Clock: config.Clock, LoggerFactory: config.LoggerFactory})
	}
	if config.Regulatory == nil {
		r, err := NewRegulatoryState(RegulatoryOptions{
			LocationCapability:     RegulatoryIndoorOutdoor,
			AllowCountryCodeChange: true,
		})
		if err != nil {
			return nil, err
		}
		config.Regulatory = r
	}
	if config.Network == nil {
		config.Network = NewNetworkTable(NetworkTableConfig{})
	}

	d := &Device{
		log:         config.LoggerFactory.NewLogger("commissioning"),
		failSafe:    config.FailSafe,
		regulatory:  config.Regulatory,
		network:     config.Network,
		credentials: config.Credentials,
		window:      config.Window,
		onDone:      config.OnCommissioned,
	}
	d.cancelExpire = d.failSafe.OnExpire(d.rollback)
	return d, nil
}

// FailSafe returns the fail-safe the device arms.
func (d *Device) FailSafe() FailSafe { return d.failSafe }

// Register installs the command handlers on s.
func (d *Device) Register(s *im.Server) {
	s.Handle(PathReadCommissioningInfo, d.readCommissioningInfo)
	s.Handle(PathArmFailSafe, d.armFailSafe)
	s.Handle(PathSetRegulatoryConfig, d.setRegulatoryConfig)
	s.Handle(PathCommissioningComplete, d.commissioningComplete)

	// Ethernet devices expose the cluster with no provisioning commands.
	s.AddCluster(im.RootEndpoint, ClusterNetworkCommissioning)
	features := d.network.Features()
	if features.Has(NetworkFeatureWiFi) {
		s.Handle(PathAddOrUpdateWiFiNetwork, d.addOrUpdateWiFiNetwork)
	}
	if features.Has(NetworkFeatureThread) {
		s.Handle(PathAddOrUpdateThreadNetwork, d.addOrUpdateThreadNetwork)
	}
	if features.RequiresProvisioning() {
		s.Handle(PathConnectNetwork, d.connectNetwork)
	}

	s.Handle(PathCSRRequest, d.csrRequest)
	s.Handle(PathAddTrustedRootCertificate, d.addTrustedRootCertificate)
	s.Handle(PathAddNOC, d.addNOC)
	s.Handle(PathRemoveFabric, d.removeFabric)

	if d.window != nil {
		s.Handle(PathOpenBasicCommissioningWindow, d.openBasicCommissioningWindow)
		s.Handle(PathRevokeCommissioning, d.revokeCommissioning)
	}
}

// Close stops reacting to fail-safe expiry.
func (d *Device) Close() error {
	d.cancelExpire()
	return nil
}

func (d *Device) rollback() {
	d.credentials.Revert()
	d.network.Revert()
	d.setBreadcrumb(0)
	d.log.Infof("Rolled back commissioning changes")
}

func (d *Device) setBreadcrumb(v uint64) {
	d.mu.Lock()
	d.breadcrumb = v
	d.mu.Unlock()
}

func (d *Device) getBreadcrumb() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breadcrumb
}

// accessingFabric is the fabric a command arrived under, or
// FabricIndexInvalid over PASE.
func accessingFabric(s session.Session) fabric.FabricIndex {
	if f := s.Fabric(); f != nil {
		return f.Index()
	}
	return fabric.FabricIndexInvalid
}

func (d *Device) requireArmed() error {
	if !d.failSafe.IsArmed() {
		return im.ErrFailsafeRequired
	}
	return nil
}

func (d *Device) readCommissioningInfo(_ context.Context, _ *im.Request) (any, error) {
	maxCumulative := DefaultMaxCumulativeFailSafe
	if t, ok := d.failSafe.(interface{ MaxCumulative() time.Duration }); ok {
		maxCumulative = t.MaxCumulative()
	}
	rc := d.regulatory.RegulatoryConfig()
	return &CommissioningInfo{
		FailSafeExpiryLengthSeconds:  uint16(DefaultFailSafeExpiry / time.Second),
		MaxCumulativeFailsafeSeconds: uint16(maxCumulative / time.Second),
		RegulatoryConfig:             rc.Location,
		LocationCapability:           d.regulatory.LocationCapability(),
		CountryCode:                  rc.CountryCode,
		NetworkFeatures:              d.network.Features(),
		Breadcrumb:                   d.getBreadcrumb(),
	}, nil
}

func (d *Device) armFailSafe(_ context.Context, req *im.Request) (any, error) {
	var in ArmFailSafeRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	sess := req.Session()

	if d.window != nil && d.window.IsCommissioningWindowOpen() &&
		sess.Type() == session.TypeCASE && !d.failSafe.IsArmed() {
		return &CommissioningResponse{ErrorCode: CommissioningBusyWithOtherAdmin}, nil
	}

	expiry := time.Duration(in.ExpiryLengthSeconds) * time.Second
	if err := d.failSafe.Arm(accessingFabric(sess), expiry); err != nil {
		if errors.Is(err, ErrBusyWithOtherAdmin) {
			return &CommissioningResponse{ErrorCode: CommissioningBusyWithOtherAdmin}, nil
		}
		return &CommissioningResponse{ErrorCode: CommissioningValueOutsideRange, DebugText: err.Error()}, nil
	}
	if expiry > 0 {
		d.setBreadcrumb(in.Breadcrumb)
	}
	return &CommissioningResponse{ErrorCode: CommissioningOK}, nil
}

func (d *Device) setRegulatoryConfig(_ context.Context, req *im.Request) (any, error) {
	var in SetRegulatoryConfigRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	err := d.regulatory.SetRegulatoryConfig(RegulatoryConfig{
		Location:    in.NewRegulatoryConfig,
		CountryCode: in.CountryCode,
	})
	if err != nil {
		return &CommissioningResponse{ErrorCode: CommissioningValueOutsideRange, DebugText: err.Error()}, nil
	}
	d.setBreadcrumb(in.Breadcrumb)
	return &CommissioningResponse{ErrorCode: CommissioningOK}, nil
}

func (d *Device) commissioningComplete(_ context.Context, req *im.Request) (any, error) {
	sess := req.Session()
	if !d.failSafe.IsArmed() {
		return &CommissioningResponse{ErrorCode: CommissioningNoFailSafe}, nil
	}
	if sess.Type() != session.TypeCASE || accessingFabric(sess) != d.failSafe.FabricIndex() {
		return &CommissioningResponse{ErrorCode: CommissioningInvalidAuthentication}, nil
	}

	d.credentials.Commit()
	d.network.Commit()
	d.failSafe.Disarm()
	d.setBreadcrumb(0)
	if d.window != nil {
		if err := d.window.CloseCommissioningWindow(); err != nil && !errors.Is(err, ErrWindowClosed) {
			d.log.Warnf("Closing commissioning window: %v", err)
		}
	}

	f := sess.Fabric()
	d.log.Infof("Commissioning complete on %s", f)
	if d.onDone != nil {
		d.onDone(f)
	}
	return &CommissioningResponse{ErrorCode: CommissioningOK}, nil
}

func (d *Device) addOrUpdateWiFiNetwork(_ context.Context, req *im.Request) (any, error) {
	if err := d.requireArmed(); err != nil {
		return nil, err
	}
	var in AddOrUpdateWiFiNetworkRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	index, err := d.network.AddOrUpdateNetwork(Network{
		ID:              in.SSID,
		Type:            NetworkFeatureWiFi,
		WiFiCredentials: in.Credentials,
	})
	return d.networkConfigResponse(index, in.Breadcrumb, err)
}

func (d *Device) addOrUpdateThreadNetwork(_ context.Context, req *im.Request) (any, error) {
	if err := d.requireArmed(); err != nil {
		return nil, err
	}
	var in AddOrUpdateThreadNetworkRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	id, ok := ThreadExtendedPANID(in.OperationalDataset)
	if !ok {
		return &NetworkConfigResponse{NetworkingStatus: NetworkingOutOfRange, DebugText: "dataset has no extended PAN ID"}, nil
	}
	index, err := d.network.AddOrUpdateNetwork(Network{
		ID:            id,
		Type:          NetworkFeatureThread,
		ThreadDataset: in.OperationalDataset,
	})
	return d.networkConfigResponse(index, in.Breadcrumb, err)
}

func (d *Device) networkConfigResponse(index int, breadcrumb uint64, err error) (any, error) {
	switch {
	case err == nil:
		d.setBreadcrumb(breadcrumb)
		return &NetworkConfigResponse{NetworkingStatus: NetworkingSuccess, NetworkIndex: uint8(index)}, nil
	case errors.Is(err, ErrNetworkUnsupported):
		return nil, im.ErrCommandNotFound
	case errors.Is(err, ErrNetworkTableFull):
		return &NetworkConfigResponse{NetworkingStatus: NetworkingBoundsExceeded}, nil
	case errors.Is(err, ErrValueOutsideRange):
		return &NetworkConfigResponse{NetworkingStatus: NetworkingOutOfRange}, nil
	default:
		return &NetworkConfigResponse{NetworkingStatus: NetworkingUnknownError, DebugText: err.Error()}, nil
	}
}

func (d *Device) connectNetwork(ctx context.Context, req *im.Request) (any, error) {
	if err := d.requireArmed(); err != nil {
		return nil, err
	}
	var in ConnectNetworkRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	err := d.network.ConnectNetwork(ctx, in.NetworkID)
	switch {
	case err == nil:
		d.setBreadcrumb(in.Breadcrumb)
		return &ConnectNetworkResponse{NetworkingStatus: NetworkingSuccess}, nil
	case errors.Is(err, ErrNetworkNotFound):
		return &ConnectNetworkResponse{NetworkingStatus: NetworkingNetworkIDNotFound}, nil
	default:
		d.log.Warnf("Connecting network %x: %v", in.NetworkID, err)
		return &ConnectNetworkResponse{NetworkingStatus: NetworkingOtherConnectionFailure, DebugText: err.Error()}, nil
	}
}

func (d *Device) csrRequest(_ context.Context, req *im.Request) (any, error) {
	if err := d.requireArmed(); err != nil {
		return nil, err
	}
	var in CSRRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	csr, err := d.credentials.CSRRequest(in.CSRNonce)
	switch {
	case errors.Is(err, ErrInvalidNonce):
		return nil, fmt.Errorf("%w: %v", im.ErrInvalidCommand, err)
	case errors.Is(err, ErrNOCAlreadyAdded):
		return nil, im.ErrConstraintError
	case err != nil:
		return nil, err
	}
	return &CSRResponse{CSR: csr, CSRNonce: in.CSRNonce}, nil
}

func (d *Device) addTrustedRootCertificate(_ context.Context, req *im.Request) (any, error) {
	if err := d.requireArmed(); err != nil {
		return nil, err
	}
	var in AddTrustedRootCertificateRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	err := d.credentials.AddTrustedRootCertificate(in.RootCACertificate)
	switch {
	case errors.Is(err, ErrNOCAlreadyAdded):
		return nil, im.ErrConstraintError
	case err != nil:
		return nil, fmt.Errorf("%w: %v", im.ErrInvalidCommand, err)
	}
	return nil, nil
}

func (d *Device) addNOC(_ context.Context, req *im.Request) (any, error) {
	if err := d.requireArmed(); err != nil {
		return nil, err
	}
	var in AddNOCRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	f, err := d.credentials.AddNOC(&in)
	if errors.Is(err, ErrNOCAlreadyAdded) {
		return nil, im.ErrConstraintError
	}
	if err != nil {
		d.log.Warnf("AddNOC rejected: %v", err)
		return &NOCResponse{StatusCode: nocStatus(err), DebugText: err.Error()}, nil
	}
	d.failSafe.SetFabricIndex(f.Index())
	return &NOCResponse{StatusCode: NOCStatusOK, FabricIndex: uint8(f.Index())}, nil
}

func (d *Device) removeFabric(_ context.Context, req *im.Request) (any, error) {
	var in RemoveFabricRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if req.Session().Type() != session.TypeCASE {
		return nil, im.ErrAccessDenied
	}
	if err := d.credentials.RemoveFabric(fabric.FabricIndex(in.FabricIndex)); err != nil {
		return &NOCResponse{StatusCode: nocStatus(err), DebugText: err.Error()}, nil
	}
	return &NOCResponse{StatusCode: NOCStatusOK, FabricIndex: in.FabricIndex}, nil
}

func (d *Device) openBasicCommissioningWindow(_ context.Context, req *im.Request) (any, error) {
	if req.Session().Type() != session.TypeCASE {
		return nil, im.ErrAccessDenied
	}
	var in OpenBasicCommissioningWindowRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	timeout := time.Duration(in.CommissioningTimeout) * time.Second
	if timeout < MinWindowTimeout || timeout > MaxWindowTimeout {
		return nil, fmt.Errorf("%w: timeout %s", im.ErrInvalidCommand, timeout)
	}
	if d.failSafe.IsArmed() {
		return nil, im.ErrBusy
	}
	if err := d.window.OpenCommissioningWindow(timeout); err != nil {
		if errors.Is(err, ErrWindowAlreadyOpen) {
			return nil, im.ErrBusy
		}
		return nil, err
	}
	return nil, nil
}

func (d *Device) revokeCommissioning(_ context.Context, req *im.Request) (any, error) {
	if req.Session().Type() != session.TypeCASE {
		return nil, im.ErrAccessDenied
	}
	d.failSafe.Expire()
	if err := d.window.CloseCommissioningWindow(); err != nil {
		if errors.Is(err, ErrWindowClosed) {
			return nil, im.ErrInvalidInState
		}
		return nil, err
	}
	return nil, nil
}

// ThreadExtendedPANID returns the Extended PAN ID TLV of a Thread
// operational dataset, which identifies the network.
func ThreadExtendedPANID(dataset []byte) ([]byte, bool) {
	const (
		tlvExtendedPANID = 0x02
		extendedPANIDLen = 8
	)
	for i := 0; i+2 <= len(dataset); {
		typ, n := dataset[i], int(dataset[i+1])
		i += 2
		if i+n > len(dataset) {
			return nil, false
		}
		if typ == tlvExtendedPANID && n == extendedPANIDLen {
			return dataset[i : i+n], true
		}
		i += n
	}
	return nil, false
}
