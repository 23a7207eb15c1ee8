package pase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/message"
	"github.com/Orzech99/matter.js/pkg/securechannel"
	"github.com/Orzech99/matter.js/pkg/session"
	"github.com/Orzech99/matter.js/pkg/transport"
)

const (
	controllerIP = "10.0.0.1"
	deviceIP     = "10.0.0.5"
)

type fixture struct {
	network    *exchange.TestNetwork
	controller *exchange.TestNode
	device     *exchange.TestNode
	client     *Client
	server     *Server
	sessions   chan *exchange.MessageChannel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	network, err := exchange.NewTestNetwork(controllerIP, deviceIP)
	require.NoError(t, err)
	t.Cleanup(func() { _ = network.Close() })

	controller, err := network.NewNode(exchange.TestNodeConfig{IP: controllerIP})
	require.NoError(t, err)
	device, err := network.NewNode(exchange.TestNodeConfig{IP: deviceIP, Port: transport.DefaultPort})
	require.NoError(t, err)

	v, err := GenerateVerifier(testPasscode, testSalt, testIterations)
	require.NoError(t, err)

	f := &fixture{
		network:    network,
		controller: controller,
		device:     device,
		sessions:   make(chan *exchange.MessageChannel, 4),
	}
	f.server, err = NewServer(ServerConfig{
		Exchanges:  device.Exchanges,
		Verifier:   v,
		Salt:       testSalt,
		Iterations: testIterations,
		OnSession:  func(ch *exchange.MessageChannel) { f.sessions <- ch },
	})
	require.NoError(t, err)
	f.server.Register(securechannel.NewDispatcher(device.Exchanges, nil))

	f.client, err = NewClient(ClientConfig{Exchanges: controller.Exchanges})
	require.NoError(t, err)
	return f
}

func (f *fixture) pair(t *testing.T, passcode uint32, params session.Params) (*exchange.MessageChannel, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := f.controller.OpenUnsecured(ctx, f.device.Address)
	require.NoError(t, err)
	if params != (session.Params{}) {
		ch.Session().(*session.UnsecureSession).SetParams(params)
	}
	return f.client.Pair(ctx, ch, passcode)
}

func (f *fixture) assertNoLeaks(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, f.controller.Exchanges.ExchangeCount())
	assert.Equal(t, 0, f.controller.Sessions.UnsecureSessionCount())
	assert.Equal(t, 0, f.controller.Sessions.SecureSessionCount())
}

func TestPair(t *testing.T) {
	f := newFixture(t)

	ch, err := f.pair(t, testPasscode, session.Params{})
	require.NoError(t, err)
	assert.True(t, ch.Session().IsSecure())
	assert.Equal(t, session.TypePASE, ch.Session().Type())
	assert.Equal(t, 0, f.controller.Sessions.UnsecureSessionCount())
	assert.Equal(t, 1, f.controller.Sessions.SecureSessionCount())

	var deviceCh *exchange.MessageChannel
	select {
	case deviceCh = <-f.sessions:
	case <-time.After(5 * time.Second):
		t.Fatal("device did not report the session")
	}
	assert.Equal(t, ch.Session().(*session.SecureSession).PeerSessionID(), deviceCh.Session().ID())

	// Messages now flow encrypted over the new session.
	got := make(chan []byte, 1)
	f.device.Exchanges.RegisterProtocol(message.ProtocolInteractionModel, exchange.ProtocolHandlerFunc(func(ex *exchange.Exchange) {
		defer ex.Close()
		msg, err := ex.NextMessage(context.Background())
		if err == nil {
			got <- msg.Payload
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ex, err := f.controller.Exchanges.InitiateExchangeWithChannel(ch, message.ProtocolInteractionModel)
	require.NoError(t, err)
	defer ex.Close()
	require.NoError(t, ex.Send(ctx, 0x08, []byte("hello")))
	assert.Equal(t, []byte("hello"), <-got)
}

func TestPairWrongPasscode(t *testing.T) {
	f := newFixture(t)

	_, err := f.pair(t, 34567890, session.Params{})
	require.Error(t, err)
	assert.Equal(t, errs.KindPairingFailed, errs.KindOf(err))
	assert.ErrorIs(t, err, ErrConfirmationFailed)
	f.assertNoLeaks(t)

	assert.Eventually(t, func() bool {
		return f.device.Sessions.UnsecureSessionCount() == 0 && f.device.Sessions.SecureSessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPairSilentDevice(t *testing.T) {
	f := newFixture(t)
	f.network.DropIf(func(_, to string, _ []byte) bool { return to == deviceIP })

	_, err := f.pair(t, testPasscode, session.Params{
		IdleInterval:   20 * time.Millisecond,
		ActiveInterval: 20 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindRetransmissionLimit, errs.KindOf(err))
	f.assertNoLeaks(t)
}

func TestPairBusyServer(t *testing.T) {
	f := newFixture(t)
	f.server.busy.Store(true)

	_, err := f.pair(t, testPasscode, session.Params{})
	require.Error(t, err)
	assert.Equal(t, errs.KindPairingFailed, errs.KindOf(err))

	var sr *securechannel.StatusReport
	require.ErrorAs(t, err, &sr)
	assert.True(t, sr.IsBusy())
	f.assertNoLeaks(t)
}

func TestPairRetriesAfterBusy(t *testing.T) {
	f := newFixture(t)
	f.server.busy.Store(true)
	time.AfterFunc(100*time.Millisecond, func() { f.server.busy.Store(false) })

	ch, err := f.pair(t, testPasscode, session.Params{})
	require.NoError(t, err)
	assert.True(t, ch.Session().IsSecure())
}

func TestPairTwice(t *testing.T) {
	f := newFixture(t)

	_, err := f.pair(t, testPasscode, session.Params{})
	require.NoError(t, err)
	_, err = f.pair(t, testPasscode, session.Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.controller.Sessions.SecureSessionCount())
	assert.False(t, f.server.busy.Load())
}

func TestNewServerValidation(t *testing.T) {
	f := newFixture(t)

	_, err := NewServer(ServerConfig{Exchanges: f.device.Exchanges, Salt: testSalt, Iterations: testIterations})
	assert.True(t, errs.Is(err, errs.KindValidation))

	v, err := GenerateVerifier(testPasscode, testSalt, testIterations)
	require.NoError(t, err)
	_, err = NewServer(ServerConfig{Exchanges: f.device.Exchanges, Verifier: v, Salt: []byte("short"), Iterations: testIterations})
	assert.ErrorIs(t, err, ErrInvalidSalt)

	_, err = NewClient(ClientConfig{})
	assert.True(t, errs.Is(err, errs.KindImplementation))
}
