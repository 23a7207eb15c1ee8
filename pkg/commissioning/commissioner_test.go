package commissioning

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/credentials"
	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/im"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/securechannel/casesession"
	"github.com/Orzech99/matter.js/pkg/securechannel/pase"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/transport"
)

const (
	controllerIP = "10.0.0.1"
	deviceIP     = "10.0.0.5"

	testPasscode   = 20202021
	testIterations = 1000

	controllerNode fabric.NodeID = 0x0000_0000_0001_B669
	deviceNode     fabric.NodeID = 0x0000_0000_0000_0042
)

var testSalt = []byte("SPAKE2P Key Salt")

type deviceOptions struct {
	features  NetworkFeatures
	connect   ConnectFunc
	countries RegulatoryOptions
}

type fixture struct {
	network    *exchange.TestNetwork
	controller *exchange.TestNode
	device     *exchange.TestNode

	// Controller side.
	ca         *credentials.CertificateAuthority
	fabric     *fabric.Fabric
	paseClient *pase.Client
	caseClient *casesession.Client
	imClient   *im.Client

	// Device side.
	fabrics      *fabric.Table
	failSafe     *FailSafeTimer
	networks     *NetworkTable
	window       *Window
	dev          *Device
	commissioned chan *fabric.Fabric
}

func newFixture(t *testing.T, opts deviceOptions) *fixture {
	t.Helper()
	network, err := exchange.NewTestNetwork(controllerIP, deviceIP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = network.Close() })

	controller, err := network.NewNode(exchange.TestNodeConfig{IP: controllerIP})
	require.NoError(t, err)
	device, err := network.NewNode(exchange.TestNodeConfig{IP: deviceIP, Port: transport.DefaultPort})
	require.NoError(t, err)

	f := &fixture{
		network:      network,
		controller:   controller,
		device:       device,
		commissioned: make(chan *fabric.Fabric, 1),
	}

	f.ca, err = credentials.NewCertificateAuthority(credentials.CertificateAuthorityConfig{})
	require.NoError(t, err)
	f.fabric, err = fabric.NewTestFabric(f.ca, fabric.TestFabricConfig{
		FabricID: 1,
		NodeID:   controllerNode,
		EpochKey: []byte("0123456789abcdef"),
	})
	require.NoError(t, err)
	f.paseClient, err = pase.NewClient(pase.ClientConfig{Exchanges: controller.Exchanges})
	require.NoError(t, err)
	f.caseClient, err = casesession.NewClient(casesession.ClientConfig{Exchanges: controller.Exchanges})
	require.NoError(t, err)
	f.imClient, err = im.NewClient(im.ClientConfig{Exchanges: controller.Exchanges, Timeout: 5 * time.Second})
	require.NoError(t, err)

	f.setupDevice(t, opts)
	return f
}

func (f *fixture) setupDevice(t *testing.T, opts deviceOptions) {
	t.Helper()
	var err error
	f.fabrics, err = fabric.NewTable(fabric.TableConfig{})
	require.NoError(t, err)

	dispatcher := securechannel.NewDispatcher(f.device.Exchanges, nil)
	caseServer, err := casesession.NewServer(casesession.ServerConfig{Exchanges: f.device.Exchanges, Fabrics: f.fabrics})
	require.NoError(t, err)
	caseServer.Register(dispatcher)

	verifier, err := pase.GenerateVerifier(testPasscode, testSalt, testIterations)
	require.NoError(t, err)
	paseServer, err := pase.NewServer(pase.ServerConfig{
		Exchanges:  f.device.Exchanges,
		Verifier:   verifier,
		Salt:       testSalt,
		Iterations: testIterations,
	})
	require.NoError(t, err)

	f.window = NewWindow(WindowConfig{
		OnOpen:  func() error { paseServer.Register(dispatcher); return nil },
		OnClose: func() { paseServer.Unregister(dispatcher) },
	})
	require.NoError(t, f.window.OpenCommissioningWindow(0))

	store, err := NewCredentialStore(CredentialStoreConfig{Fabrics: f.fabrics})
	require.NoError(t, err)
	f.failSafe = NewFailSafeTimer(FailSafeConfig{})
	f.networks = NewNetworkTable(NetworkTableConfig{Features: opts.features, Connect: opts.connect})

	if opts.countries.LocationCapability == 0 && opts.countries.Initial == (RegulatoryConfig{}) {
		opts.countries.LocationCapability = RegulatoryIndoorOutdoor
	}
	regulatory, err := NewRegulatoryState(opts.countries)
	require.NoError(t, err)

	f.dev, err = NewDevice(DeviceConfig{
		Credentials:    store,
		FailSafe:       f.failSafe,
		Regulatory:     regulatory,
		Network:        f.networks,
		Window:         f.window,
		OnCommissioned: func(fb *fabric.Fabric) { f.commissioned <- fb },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.dev.Close() })

	server := im.NewServer(im.ServerConfig{})
	f.dev.Register(server)
	server.Register(f.device.Exchanges)
}

func (f *fixture) commissioner(t *testing.T, config CommissionerConfig) *Commissioner {
	t.Helper()
	config.Client = f.imClient
	config.CA = f.ca
	config.Fabric = f.fabric
	config.Exchanges = f.controller.Exchanges
	c, err := NewCommissioner(config)
	require.NoError(t, err)
	return c
}

func (f *fixture) pair(t *testing.T, a *Attempt) *exchange.MessageChannel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.BeginPase()
	ch, err := f.controller.OpenUnsecured(ctx, f.device.Address)
	require.NoError(t, err)
	paseCh, err := f.paseClient.Pair(ctx, ch, testPasscode)
	require.NoError(t, err)
	return paseCh
}

func (f *fixture) reconnect(ctx context.Context, nodeID fabric.NodeID) (*exchange.MessageChannel, error) {
	ch, err := f.controller.OpenUnsecured(ctx, f.device.Address)
	if err != nil {
		return nil, err
	}
	return f.caseClient.Pair(ctx, ch, f.fabric, nodeID)
}

func runCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCommissionOnNetworkDevice(t *testing.T) {
	f := newFixture(t, deviceOptions{})
	c := f.commissioner(t, CommissionerConfig{})

	a := c.NewAttempt(deviceNode)
	var observed []State
	a.OnStateChanged(func(s State) { observed = append(observed, s) })

	paseCh := f.pair(t, a)
	caseCh, err := c.Run(runCtx(t), a, paseCh, f.reconnect)
	require.NoError(t, err)

	want := []State{
		StateDiscovering, StatePaseHandshake, StateFailSafeArmed, StateCredentialsInstalled,
		StateNetworkConfigured, StateReconnectingCase, StateComplete,
	}
	assert.Equal(t, want, a.History())
	assert.Equal(t, want[1:], observed)
	assert.NoError(t, a.Err())

	sess := caseCh.Session()
	assert.Equal(t, session.TypeCASE, sess.Type())
	assert.Equal(t, deviceNode, sess.PeerNodeID())
	assert.True(t, paseCh.IsClosed())

	select {
	case fb := <-f.commissioned:
		assert.Equal(t, deviceNode, fb.NodeID())
		assert.Equal(t, controllerNode, fb.RootNodeID())
		assert.Equal(t, f.fabric.FabricID(), fb.FabricID())
		assert.Equal(t, fabric.VendorIDTestVendor1, fb.RootVendorID())
	case <-time.After(5 * time.Second):
		t.Fatal("device did not report commissioning")
	}
	assert.Equal(t, 1, f.fabrics.Count())
	assert.False(t, f.failSafe.IsArmed())
	assert.False(t, f.window.IsCommissioningWindowOpen())

	_, err = c.Run(runCtx(t), a, paseCh, f.reconnect)
	assert.ErrorIs(t, err, ErrAttemptFinished)
}

func TestCommissionWiFiDevice(t *testing.T) {
	var joined atomic.Value
	f := newFixture(t, deviceOptions{
		features: NetworkFeatureWiFi,
		connect: func(_ context.Context, n Network) error {
			joined.Store(string(n.ID))
			return nil
		},
	})
	c := f.commissioner(t, CommissionerConfig{
		Network: NetworkCredentials{WiFiSSID: []byte("home"), WiFiCredentials: []byte("secret")},
	})

	a := c.NewAttempt(deviceNode)
	_, err := c.Run(runCtx(t), a, f.pair(t, a), f.reconnect)
	require.NoError(t, err)
	assert.Equal(t, "home", joined.Load())
	assert.Equal(t, []byte("home"), f.networks.Connected())
	require.Len(t, f.networks.Networks(), 1)
}

func TestCommissionRetriesNetworkAfterCaseFailure(t *testing.T) {
	var connects atomic.Int32
	f := newFixture(t, deviceOptions{
		features: NetworkFeatureThread,
		connect:  func(context.Context, Network) error { connects.Add(1); return nil },
	})
	dataset := []byte{0x02, 0x08, 1, 2, 3, 4, 5, 6, 7, 8}
	c := f.commissioner(t, CommissionerConfig{Network: NetworkCredentials{ThreadDataset: dataset}})

	var calls int
	reconnect := func(ctx context.Context, nodeID fabric.NodeID) (*exchange.MessageChannel, error) {
		calls++
		if calls == 1 {
			return nil, errs.New(errs.KindRetransmissionLimit, "not yet on the network")
		}
		return f.reconnect(ctx, nodeID)
	}

	a := c.NewAttempt(deviceNode)
	_, err := c.Run(runCtx(t), a, f.pair(t, a), reconnect)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int32(2), connects.Load())
	assert.Equal(t, []State{
		StateDiscovering, StatePaseHandshake, StateFailSafeArmed, StateCredentialsInstalled,
		StateNetworkConfigured, StateReconnectingCase,
		StateCredentialsInstalled, StateNetworkConfigured, StateReconnectingCase,
		StateComplete,
	}, a.History())
}

func TestCommissionReconnectExhausted(t *testing.T) {
	f := newFixture(t, deviceOptions{})
	c := f.commissioner(t, CommissionerConfig{NetworkRetries: NoNetworkRetries})
	unreachable := errs.New(errs.KindRetransmissionLimit, "unreachable")

	a := c.NewAttempt(deviceNode)
	_, err := c.Run(runCtx(t), a, f.pair(t, a), func(context.Context, fabric.NodeID) (*exchange.MessageChannel, error) {
		return nil, unreachable
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindRetransmissionLimit, errs.KindOf(err))
	assert.Equal(t, StateFailed, a.State())
	assert.ErrorIs(t, a.Err(), unreachable)

	// The device rolled the new fabric back when the fail-safe was expired.
	assert.Eventually(t, func() bool { return f.fabrics.Count() == 0 && !f.failSafe.IsArmed() },
		5*time.Second, 10*time.Millisecond)
	assert.True(t, f.window.IsCommissioningWindowOpen())
}

func TestCommissionRollsBackOnRejectedStep(t *testing.T) {
	f := newFixture(t, deviceOptions{countries: RegulatoryOptions{LocationCapability: RegulatoryIndoorOutdoor}})
	c := f.commissioner(t, CommissionerConfig{Regulatory: RegulatoryConfig{Location: RegulatoryIndoor, CountryCode: "DE"}})

	a := c.NewAttempt(deviceNode)
	_, err := c.Run(runCtx(t), a, f.pair(t, a), f.reconnect)
	require.ErrorIs(t, err, ErrCommandFailed)
	assert.Equal(t, StateDiscovering, a.State())
	assert.Equal(t, []State{StateDiscovering, StatePaseHandshake, StateFailSafeArmed, StateDiscovering}, a.History())
	assert.Eventually(t, func() bool { return !f.failSafe.IsArmed() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.fabrics.Count())
}

func TestCommissionRequiresNetworkCredentials(t *testing.T) {
	f := newFixture(t, deviceOptions{features: NetworkFeatureWiFi})
	c := f.commissioner(t, CommissionerConfig{})

	a := c.NewAttempt(deviceNode)
	_, err := c.Run(runCtx(t), a, f.pair(t, a), f.reconnect)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.ErrorIs(t, err, ErrNetworkCredentialsRequired)
	assert.Equal(t, StateDiscovering, a.State())

	// AddNOC had already run; disarming removes the fabric again.
	assert.Eventually(t, func() bool { return f.fabrics.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestDeviceCommandGuards(t *testing.T) {
	f := newFixture(t, deviceOptions{})
	ctx := runCtx(t)
	paseCh := f.pair(t, f.commissioner(t, CommissionerConfig{}).NewAttempt(deviceNode))

	var info CommissioningInfo
	require.NoError(t, f.imClient.Invoke(ctx, paseCh, PathReadCommissioningInfo, nil, &info))
	assert.Equal(t, uint16(60), info.FailSafeExpiryLengthSeconds)
	assert.Equal(t, uint16(900), info.MaxCumulativeFailsafeSeconds)
	assert.Equal(t, RegulatoryOutdoor, info.RegulatoryConfig)
	assert.Equal(t, "XX", info.CountryCode)
	assert.Equal(t, NetworkFeatureEthernet, info.NetworkFeatures)

	// Credentials need an armed fail-safe.
	err := f.imClient.Invoke(ctx, paseCh, PathCSRRequest, &CSRRequest{CSRNonce: make([]byte, CSRNonceSize)}, nil)
	assert.ErrorIs(t, err, im.ErrFailsafeRequired)

	var resp CommissioningResponse
	require.NoError(t, f.imClient.Invoke(ctx, paseCh, PathArmFailSafe, &ArmFailSafeRequest{ExpiryLengthSeconds: 60}, &resp))
	assert.Equal(t, CommissioningOK, resp.ErrorCode)

	err = f.imClient.Invoke(ctx, paseCh, PathCSRRequest, &CSRRequest{CSRNonce: []byte("short")}, nil)
	assert.ErrorIs(t, err, im.ErrInvalidCommand)

	var noc NOCResponse
	require.NoError(t, f.imClient.Invoke(ctx, paseCh, PathAddNOC, &AddNOCRequest{NOCValue: []byte{1}}, &noc))
	assert.Equal(t, NOCStatusMissingCSR, noc.StatusCode)

	// Completion is only accepted over CASE.
	require.NoError(t, f.imClient.Invoke(ctx, paseCh, PathCommissioningComplete, nil, &resp))
	assert.Equal(t, CommissioningInvalidAuthentication, resp.ErrorCode)

	// Administrator commands are only accepted over CASE.
	err = f.imClient.Invoke(ctx, paseCh, PathOpenBasicCommissioningWindow, &OpenBasicCommissioningWindowRequest{CommissioningTimeout: 180}, nil)
	assert.ErrorIs(t, err, im.ErrAccessDenied)

	// Ethernet devices serve no network provisioning commands.
	err = f.imClient.Invoke(ctx, paseCh, PathConnectNetwork, &ConnectNetworkRequest{NetworkID: []byte("x")}, nil)
	assert.ErrorIs(t, err, im.ErrCommandNotFound)

	require.NoError(t, f.imClient.Invoke(ctx, paseCh, PathArmFailSafe, &ArmFailSafeRequest{}, &resp))
	assert.False(t, f.failSafe.IsArmed())
	require.NoError(t, f.imClient.Invoke(ctx, paseCh, PathCommissioningComplete, nil, &resp))
	assert.Equal(t, CommissioningNoFailSafe, resp.ErrorCode)
}

func TestReopenCommissioningWindow(t *testing.T) {
	f := newFixture(t, deviceOptions{})
	c := f.commissioner(t, CommissionerConfig{})
	a := c.NewAttempt(deviceNode)
	caseCh, err := c.Run(runCtx(t), a, f.pair(t, a), f.reconnect)
	require.NoError(t, err)
	require.False(t, f.window.IsCommissioningWindowOpen())

	ctx := runCtx(t)
	err = f.imClient.Invoke(ctx, caseCh, PathOpenBasicCommissioningWindow, &OpenBasicCommissioningWindowRequest{CommissioningTimeout: 10}, nil)
	assert.ErrorIs(t, err, im.ErrInvalidCommand)

	req := &OpenBasicCommissioningWindowRequest{CommissioningTimeout: uint16(MinWindowTimeout / time.Second)}
	require.NoError(t, f.imClient.Invoke(ctx, caseCh, PathOpenBasicCommissioningWindow, req, nil))
	assert.True(t, f.window.IsCommissioningWindowOpen())
	assert.ErrorIs(t, f.imClient.Invoke(ctx, caseCh, PathOpenBasicCommissioningWindow, req, nil), im.ErrBusy)

	// While the window is open a CASE administrator cannot arm.
	var resp CommissioningResponse
	require.NoError(t, f.imClient.Invoke(ctx, caseCh, PathArmFailSafe, &ArmFailSafeRequest{ExpiryLengthSeconds: 60}, &resp))
	assert.Equal(t, CommissioningBusyWithOtherAdmin, resp.ErrorCode)

	require.NoError(t, f.imClient.Invoke(ctx, caseCh, PathRevokeCommissioning, nil, nil))
	assert.False(t, f.window.IsCommissioningWindowOpen())
	assert.ErrorIs(t, f.imClient.Invoke(ctx, caseCh, PathRevokeCommissioning, nil, nil), im.ErrInvalidInState)

	var removed NOCResponse
	require.NoError(t, f.imClient.Invoke(ctx, caseCh, PathRemoveFabric, &RemoveFabricRequest{FabricIndex: 9}, &removed))
	assert.Equal(t, NOCStatusInvalidFabricIndex, removed.StatusCode)
}

func TestCommissionerConfigValidation(t *testing.T) {
	f := newFixture(t, deviceOptions{})
	base := CommissionerConfig{Client: f.imClient, CA: f.ca, Fabric: f.fabric}

	_, err := NewCommissioner(CommissionerConfig{})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	bad := base
	bad.Network.ThreadDataset = []byte{0x01}
	_, err = NewCommissioner(bad)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	bad = base
	bad.Regulatory = RegulatoryConfig{CountryCode: "germany"}
	_, err = NewCommissioner(bad)
	assert.True(t, errors.Is(err, ErrValueOutsideRange))

	cfg := base.WithDefaults()
	assert.Equal(t, DefaultFailSafeExpiry, cfg.FailSafeExpiry)
	assert.Equal(t, DefaultNetworkRetries, cfg.NetworkRetries)
	assert.Equal(t, RegulatoryConfig{Location: RegulatoryOutdoor, CountryCode: "XX"}, cfg.Regulatory)
	assert.Equal(t, fabric.VendorIDTestVendor1, cfg.AdminVendorID)
	assert.Equal(t, 0, CommissionerConfig{NetworkRetries: NoNetworkRetries}.WithDefaults().NetworkRetries)
}
