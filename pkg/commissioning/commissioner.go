package commissioning

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/crypto"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/im"
	"github.com/Orzech99/matter.js/pkg/metrics"
	"github.com/Orzech99/matter.js/pkg/securechannel"
)

const (
	// DefaultNetworkRetries is how often a failed CASE reconnection sends
	// the commissioner back through network configuration.
	DefaultNetworkRetries = 1

	// NoNetworkRetries disables the network configuration retry.
	NoNetworkRetries = -1

	// cleanupTimeout bounds best-effort messages sent after a failure.
	cleanupTimeout = 5 * time.Second
)

// NetworkCredentials are handed to devices that need an operational
// network. Set the Wi-Fi pair, the Thread dataset, or neither for
// on-network devices.
type NetworkCredentials struct {
	WiFiSSID        []byte
	WiFiCredentials []byte
	ThreadDataset   []byte
}

// CommissionerConfig configures a Commissioner.
type CommissionerConfig struct {
	// Client invokes the commissioning commands. Required.
	Client *im.Client

	// CA signs the operational certificates. Required.
	CA *credentials.CertificateAuthority

	// Fabric is the commissioner's own fabric, issued by CA. Required.
	Fabric *fabric.Fabric

	// Exchanges, when set, is used to tell the device the PASE session is
	// closed once CASE is up.
	Exchanges *exchange.Manager

	// Regulatory defaults to Outdoor in country "XX".
	Regulatory RegulatoryConfig

	Network NetworkCredentials

	// FailSafeExpiry defaults to DefaultFailSafeExpiry.
	FailSafeExpiry time.Duration

	// NetworkRetries defaults to DefaultNetworkRetries. NoNetworkRetries
	// disables them.
	NetworkRetries int

	// AdminVendorID defaults to the fabric's root vendor ID.
	AdminVendorID fabric.VendorID

	Metrics *metrics.Metrics

	LoggerFactory logging.LoggerFactory
}

// WithDefaults returns a copy with zero fields defaulted.
func (c CommissionerConfig) WithDefaults() CommissionerConfig {
	if c.Regulatory == (RegulatoryConfig{}) {
		c.Regulatory.Location = DefaultRegulatoryLocation
	}
	c.Regulatory = c.Regulatory.WithDefaults()
	if c.FailSafeExpiry == 0 {
		c.FailSafeExpiry = DefaultFailSafeExpiry
	}
	switch {
	case c.NetworkRetries == 0:
		c.NetworkRetries = DefaultNetworkRetries
	case c.NetworkRetries < 0:
		c.NetworkRetries = 0
	}
	if c.AdminVendorID == fabric.VendorIDUnspecified && c.Fabric != nil {
		c.AdminVendorID = c.Fabric.RootVendorID()
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}

// Validate reports missing collaborators and out-of-range values.
func (c CommissionerConfig) Validate() error {
	const op = "commissioning.Config"
	switch {
	case c.Client == nil:
		return errs.New(errs.KindValidation, "commissioning: Client is required")
	case c.CA == nil:
		return errs.New(errs.KindValidation, "commissioning: CA is required")
	case c.Fabric == nil:
		return errs.New(errs.KindValidation, "commissioning: Fabric is required")
	case c.FailSafeExpiry < time.Second || c.FailSafeExpiry > DefaultMaxCumulativeFailSafe:
		return errs.Errorf(errs.KindValidation, op, "fail-safe expiry %s out of range", c.FailSafeExpiry)
	case len(c.Network.WiFiSSID) > 32:
		return errs.Errorf(errs.KindValidation, op, "SSID longer than 32 bytes")
	}
	if c.Network.ThreadDataset != nil {
		if _, ok := ThreadExtendedPANID(c.Network.ThreadDataset); !ok {
			return errs.Errorf(errs.KindValidation, op, "thread dataset has no extended PAN ID")
		}
	}
	return c.Regulatory.Validate()
}

// ReconnectFunc establishes CASE with a freshly commissioned node.
type ReconnectFunc func(ctx context.Context, nodeID fabric.NodeID) (*exchange.MessageChannel, error)

// Attempt is one commissioning run for one node.
//
// Thread Safety: All methods are safe for concurrent use. Observers run
// without the lock held.
type Attempt struct {
	ID     uuid.UUID
	NodeID fabric.NodeID

	metrics *metrics.Metrics
	log     logging.LeveledLogger

	mu      sync.Mutex
	state   State
	history []State
	err     error

	observers    map[uint64]func(State)
	nextObserver uint64
}

// State returns the current state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns every state entered, in order.
func (a *Attempt) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.history)
}

// Err returns the error of the last rollback or failure.
func (a *Attempt) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// OnStateChanged registers fn to run after each transition. The returned
// function cancels the registration.
func (a *Attempt) OnStateChanged(fn func(State)) (cancel func()) {
	a.mu.Lock()
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.observers, id)
			a.mu.Unlock()
		})
	}
}

// BeginPase records that a PASE handshake with a candidate started.
func (a *Attempt) BeginPase() { a.transition(StatePaseHandshake, nil) }

// Restart returns the attempt to Discovering after a failed candidate.
func (a *Attempt) Restart(cause error) { a.transition(StateDiscovering, cause) }

// Fail abandons the attempt.
func (a *Attempt) Fail(cause error) { a.transition(StateFailed, cause) }

func (a *Attempt) transition(s State, cause error) {
	a.mu.Lock()
	if a.state.IsTerminal() {
		a.mu.Unlock()
		return
	}
	prev := a.state
	a.state = s
	a.history = append(a.history, s)
	if cause != nil {
		a.err = cause
	}
	fns := make([]func(State), 0, len(a.observers))
	for _, fn := range a.observers {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	a.metrics.Commissioning(s.String())
	a.log.Debugf("Attempt %s for node %s: %s -> %s", a.ID, a.NodeID, prev, s)
	for _, fn := range fns {
		fn(s)
	}
}

// Commissioner drives a device from an open PASE session to a committed
// operational identity on its fabric.
//
// Usage:
//
//	c, _ := commissioning.NewCommissioner(commissioning.CommissionerConfig{...})
//	a := c.NewAttempt(nodeID)
//	a.BeginPase()
//	paseCh, _ := paseClient.Pair(ctx, ch, passcode)
//	caseCh, err := c.Run(ctx, a, paseCh, reconnect)
//
// Thread Safety: A Commissioner may run attempts concurrently.
type Commissioner struct {
	config CommissionerConfig
	log    logging.LeveledLogger
}

// NewCommissioner validates config and returns a Commissioner.
func NewCommissioner(config CommissionerConfig) (*Commissioner, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Commissioner{
		config: config,
		log:    config.LoggerFactory.NewLogger("commissioning"),
	}, nil
}

// Fabric returns the fabric devices are commissioned onto.
func (c *Commissioner) Fabric() *fabric.Fabric { return c.config.Fabric }

// NewAttempt starts an attempt for nodeID in Discovering.
func (c *Commissioner) NewAttempt(nodeID fabric.NodeID) *Attempt {
	a := &Attempt{
		ID:        uuid.New(),
		NodeID:    nodeID,
		metrics:   c.config.Metrics,
		log:       c.log,
		state:     StateDiscovering,
		history:   []State{StateDiscovering},
		observers: make(map[uint64]func(State)),
	}
	c.config.Metrics.Commissioning(StateDiscovering.String())
	return a
}

// Run performs the commissioning steps over pase. On success the PASE
// session is closed and the CASE channel to the node is returned. A
// failure before CASE puts the attempt back in Discovering with the
// fail-safe disarmed; a CASE failure after the network retries marks it
// Failed.
func (c *Commissioner) Run(ctx context.Context, a *Attempt, pase *exchange.MessageChannel, reconnect ReconnectFunc) (*exchange.MessageChannel, error) {
	if a.State().IsTerminal() {
		return nil, ErrAttemptFinished
	}
	log := c.log
	log.Infof("Commissioning node %s over %s", a.NodeID, pase.Name())

	var info CommissioningInfo
	if err := c.config.Client.Invoke(ctx, pase, PathReadCommissioningInfo, nil, &info); err != nil {
		return nil, c.abort(ctx, a, pase, false, fmt.Errorf("commissioning: read info: %w", err))
	}
	expiry := c.config.FailSafeExpiry
	if limit := time.Duration(info.MaxCumulativeFailsafeSeconds) * time.Second; limit > 0 && expiry > limit {
		expiry = limit
	}

	if err := c.armFailSafe(ctx, pase, expiry, uint64(StateFailSafeArmed)); err != nil {
		return nil, c.abort(ctx, a, pase, false, err)
	}
	a.transition(StateFailSafeArmed, nil)

	if err := c.setRegulatoryConfig(ctx, pase, &info); err != nil {
		return nil, c.abort(ctx, a, pase, true, err)
	}
	if err := c.installCredentials(ctx, a, pase); err != nil {
		return nil, c.abort(ctx, a, pase, true, err)
	}
	a.transition(StateCredentialsInstalled, nil)

	var caseCh *exchange.MessageChannel
	for retry := 0; ; retry++ {
		if err := c.configureNetwork(ctx, pase, &info); err != nil {
			return nil, c.abort(ctx, a, pase, true, err)
		}
		a.transition(StateNetworkConfigured, nil)

		a.transition(StateReconnectingCase, nil)
		ch, err := reconnect(ctx, a.NodeID)
		if err == nil {
			caseCh = ch
			break
		}
		if ctx.Err() != nil || retry >= c.config.NetworkRetries {
			return nil, c.fail(ctx, a, pase, fmt.Errorf("commissioning: reconnect node %s: %w", a.NodeID, err))
		}

		log.Warnf("CASE to node %s failed, reconfiguring network: %v", a.NodeID, err)
		if err := c.armFailSafe(ctx, pase, expiry, uint64(StateFailSafeArmed)); err != nil {
			return nil, c.fail(ctx, a, pase, err)
		}
		a.transition(StateCredentialsInstalled, nil)
	}

	var done CommissioningResponse
	err := c.config.Client.Invoke(ctx, caseCh, PathCommissioningComplete, nil, &done)
	if err == nil && done.ErrorCode != CommissioningOK {
		err = fmt.Errorf("%w: CommissioningComplete: %s %s", ErrCommandFailed, done.ErrorCode, done.DebugText)
	}
	if err != nil {
		_ = caseCh.Close()
		return nil, c.fail(ctx, a, pase, fmt.Errorf("commissioning: complete: %w", err))
	}
	a.transition(StateComplete, nil)
	log.Infof("Node %s commissioned on %s", a.NodeID, c.config.Fabric)

	c.closePase(ctx, pase)
	return caseCh, nil
}

func (c *Commissioner) armFailSafe(ctx context.Context, ch *exchange.MessageChannel, expiry time.Duration, breadcrumb uint64) error {
	var resp CommissioningResponse
	req := &ArmFailSafeRequest{
		ExpiryLengthSeconds: uint16(expiry / time.Second),
		Breadcrumb:          breadcrumb,
	}
	if err := c.config.Client.Invoke(ctx, ch, PathArmFailSafe, req, &resp); err != nil {
		return fmt.Errorf("commissioning: arm fail-safe: %w", err)
	}
	if resp.ErrorCode != CommissioningOK {
		return fmt.Errorf("%w: ArmFailSafe: %s %s", ErrCommandFailed, resp.ErrorCode, resp.DebugText)
	}
	return nil
}

func (c *Commissioner) setRegulatoryConfig(ctx context.Context, ch *exchange.MessageChannel, info *CommissioningInfo) error {
	location := c.config.Regulatory.Location
	if info.LocationCapability != RegulatoryIndoorOutdoor {
		location = info.LocationCapability
	}
	var resp CommissioningResponse
	req := &SetRegulatoryConfigRequest{
		NewRegulatoryConfig: location,
		CountryCode:         c.config.Regulatory.CountryCode,
		Breadcrumb:          uint64(StateFailSafeArmed),
	}
	if err := c.config.Client.Invoke(ctx, ch, PathSetRegulatoryConfig, req, &resp); err != nil {
		return fmt.Errorf("commissioning: set regulatory config: %w", err)
	}
	if resp.ErrorCode != CommissioningOK {
		return fmt.Errorf("%w: SetRegulatoryConfig: %s %s", ErrCommandFailed, resp.ErrorCode, resp.DebugText)
	}
	return nil
}

func (c *Commissioner) installCredentials(ctx context.Context, a *Attempt, ch *exchange.MessageChannel) error {
	f := c.config.Fabric

	nonce, err := crypto.RandomBytes(CSRNonceSize)
	if err != nil {
		return err
	}
	var csr CSRResponse
	if err := c.config.Client.Invoke(ctx, ch, PathCSRRequest, &CSRRequest{CSRNonce: nonce}, &csr); err != nil {
		return fmt.Errorf("commissioning: CSR request: %w", err)
	}
	if !bytes.Equal(csr.CSRNonce, nonce) {
		return fmt.Errorf("commissioning: CSR request: %w", ErrInvalidNonce)
	}
	noc, err := c.config.CA.IssueNOCFromCSR(csr.CSR, uint64(a.NodeID), uint64(f.FabricID()))
	if err != nil {
		return errs.E(errs.KindPairingFailed, "commissioning.IssueNOC", err)
	}

	root := &AddTrustedRootCertificateRequest{RootCACertificate: f.RootCert()}
	if err := c.config.Client.Invoke(ctx, ch, PathAddTrustedRootCertificate, root, nil); err != nil {
		return fmt.Errorf("commissioning: add trusted root: %w", err)
	}

	var resp NOCResponse
	req := &AddNOCRequest{
		NOCValue:         noc,
		ICACValue:        f.IntermediateCert(),
		IPKValue:         f.EpochKey(),
		CaseAdminSubject: uint64(f.NodeID()),
		AdminVendorID:    uint16(c.config.AdminVendorID),
	}
	if err := c.config.Client.Invoke(ctx, ch, PathAddNOC, req, &resp); err != nil {
		return fmt.Errorf("commissioning: add NOC: %w", err)
	}
	if resp.StatusCode != NOCStatusOK {
		return fmt.Errorf("%w: AddNOC: %s %s", ErrCommandFailed, resp.StatusCode, resp.DebugText)
	}
	c.log.Debugf("Node %s installed at fabric index %d", a.NodeID, resp.FabricIndex)
	return nil
}

func (c *Commissioner) configureNetwork(ctx context.Context, ch *exchange.MessageChannel, info *CommissioningInfo) error {
	features := info.NetworkFeatures
	if !features.RequiresProvisioning() {
		return nil
	}

	creds := c.config.Network
	var (
		id   []byte
		resp NetworkConfigResponse
		err  error
	)
	switch {
	case features.Has(NetworkFeatureWiFi) && len(creds.WiFiSSID) > 0:
		id = creds.WiFiSSID
		err = c.config.Client.Invoke(ctx, ch, PathAddOrUpdateWiFiNetwork, &AddOrUpdateWiFiNetworkRequest{
			SSID:        creds.WiFiSSID,
			Credentials: creds.WiFiCredentials,
			Breadcrumb:  uint64(StateCredentialsInstalled),
		}, &resp)
	case features.Has(NetworkFeatureThread) && len(creds.ThreadDataset) > 0:
		id, _ = ThreadExtendedPANID(creds.ThreadDataset)
		err = c.config.Client.Invoke(ctx, ch, PathAddOrUpdateThreadNetwork, &AddOrUpdateThreadNetworkRequest{
			OperationalDataset: creds.ThreadDataset,
			Breadcrumb:         uint64(StateCredentialsInstalled),
		}, &resp)
	default:
		return errs.E(errs.KindValidation, "commissioning.Network",
			fmt.Errorf("%w: device supports %s", ErrNetworkCredentialsRequired, features))
	}
	if err != nil {
		return fmt.Errorf("commissioning: add network: %w", err)
	}
	if resp.NetworkingStatus != NetworkingSuccess {
		return fmt.Errorf("%w: AddOrUpdateNetwork: %s %s", ErrCommandFailed, resp.NetworkingStatus, resp.DebugText)
	}

	var conn ConnectNetworkResponse
	req := &ConnectNetworkRequest{NetworkID: id, Breadcrumb: uint64(StateNetworkConfigured)}
	if err := c.config.Client.Invoke(ctx, ch, PathConnectNetwork, req, &conn); err != nil {
		return fmt.Errorf("commissioning: connect network: %w", err)
	}
	if conn.NetworkingStatus != NetworkingSuccess {
		return fmt.Errorf("%w: ConnectNetwork: %s %s", ErrCommandFailed, conn.NetworkingStatus, conn.DebugText)
	}
	return nil
}

// abort rolls the attempt back to Discovering and leaves the device as it
// was found.
func (c *Commissioner) abort(ctx context.Context, a *Attempt, pase *exchange.MessageChannel, armed bool, err error) error {
	c.log.Warnf("Commissioning node %s aborted in %s: %v", a.NodeID, a.State(), err)
	if armed {
		c.disarm(ctx, pase)
	}
	a.transition(StateDiscovering, err)
	return err
}

func (c *Commissioner) fail(ctx context.Context, a *Attempt, pase *exchange.MessageChannel, err error) error {
	c.log.Warnf("Commissioning node %s failed: %v", a.NodeID, err)
	c.disarm(ctx, pase)
	a.transition(StateFailed, err)
	return err
}

// disarm expires the device fail-safe so its changes roll back now rather
// than at timeout.
func (c *Commissioner) disarm(ctx context.Context, pase *exchange.MessageChannel) {
	if pase.IsClosed() {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := c.armFailSafe(cctx, pase, 0, 0); err != nil {
		c.log.Debugf("Disarming fail-safe: %v", err)
	}
}

func (c *Commissioner) closePase(ctx context.Context, pase *exchange.MessageChannel) {
	if c.config.Exchanges != nil && !pase.IsClosed() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := securechannel.SendCloseSession(cctx, c.config.Exchanges, pase); err != nil {
			c.log.Debugf("Sending CloseSession on %s: %v", pase.Name(), err)
		}
	}
	if err := pase.Close(); err != nil {
		c.log.Debugf("Closing %s: %v", pase.Name(), err)
	}
}
