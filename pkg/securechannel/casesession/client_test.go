package casesession

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/errs"
	"github.com/Orzech99/matter.js/pkg/exchange"
	"github.com/Orzech99/matter.js/pkg/fabric"
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
	fabric     *fabric.Fabric
	client     *Client
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

	controllerFabric, _, table := newFabrics(t)
	server, err := NewServer(ServerConfig{Exchanges: device.Exchanges, Fabrics: table})
	require.NoError(t, err)
	server.Register(securechannel.NewDispatcher(device.Exchanges, nil))

	client, err := NewClient(ClientConfig{Exchanges: controller.Exchanges})
	require.NoError(t, err)

	return &fixture{network: network, controller: controller, device: device, fabric: controllerFabric, client: client}
}

func (f *fixture) pair(t *testing.T, nodeID fabric.NodeID, params session.Params) (*exchange.MessageChannel, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := f.controller.OpenUnsecured(ctx, f.device.Address)
	require.NoError(t, err)
	if params != (session.Params{}) {
		ch.Session().(*session.UnsecureSession).SetParams(params)
	}
	return f.client.Pair(ctx, ch, f.fabric, nodeID)
}

func TestClientPair(t *testing.T) {
	f := newFixture(t)

	ch, err := f.pair(t, deviceNode, session.Params{})
	require.NoError(t, err)
	sess := ch.Session().(*session.SecureSession)
	assert.Equal(t, session.TypeCASE, sess.Type())
	assert.Equal(t, deviceNode, sess.PeerNodeID())
	assert.True(t, sess.IsResumable())

	assert.Equal(t, 1, f.controller.Sessions.ResumptionRecordCount())
	assert.Eventually(t, func() bool { return f.device.Sessions.ResumptionRecordCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	device := f.device.Sessions.SecureSessionsForNode(controllerNode)
	require.Len(t, device, 1)
	assert.Equal(t, sess.PeerSessionID(), device[0].ID())
}

func TestClientResumes(t *testing.T) {
	f := newFixture(t)

	_, err := f.pair(t, deviceNode, session.Params{})
	require.NoError(t, err)
	first, ok := f.controller.Sessions.FindResumptionRecordByNodeID(deviceNode)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return f.device.Sessions.ResumptionRecordCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	_, err = f.pair(t, deviceNode, session.Params{})
	require.NoError(t, err)

	second, ok := f.controller.Sessions.FindResumptionRecordByNodeID(deviceNode)
	require.True(t, ok)
	assert.NotEqual(t, first.ResumptionID, second.ResumptionID)
	assert.Equal(t, first.SharedSecret, second.SharedSecret, "resumption keeps the shared secret")
	assert.Equal(t, 2, f.controller.Sessions.SecureSessionCount())
}

func TestClientFailuresAreRetransmissionLimit(t *testing.T) {
	f := newFixture(t)

	_, err := f.pair(t, deviceNode+1, session.Params{})
	require.Error(t, err)
	assert.Equal(t, errs.KindRetransmissionLimit, errs.KindOf(err))

	var sr *securechannel.StatusReport
	require.ErrorAs(t, err, &sr)
	assert.Equal(t, securechannel.ProtocolCodeNoSharedRoot, sr.SecureChannelCode())

	assert.Equal(t, 0, f.controller.Exchanges.ExchangeCount())
	assert.Equal(t, 0, f.controller.Sessions.UnsecureSessionCount())
	assert.Equal(t, 0, f.controller.Sessions.SecureSessionCount())
}

func TestClientSilentPeer(t *testing.T) {
	f := newFixture(t)
	f.network.DropIf(func(_, to string, _ []byte) bool { return to == deviceIP })

	_, err := f.pair(t, deviceNode, session.Params{IdleInterval: 20 * time.Millisecond, ActiveInterval: 20 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, errs.KindRetransmissionLimit, errs.KindOf(err))
	assert.Equal(t, 0, f.controller.Sessions.UnsecureSessionCount())
}
