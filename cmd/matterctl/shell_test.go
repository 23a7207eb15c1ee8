package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/commissioning/payload"
	"github.com/Orzech99/matter.js/pkg/controller"
	"github.com/Orzech99/matter.js/pkg/discovery"
	"github.com/Orzech99/matter.js/pkg/fabric"
	"github.com/Orzech99/matter.js/pkg/transport"
)

func newTestShell(t *testing.T) (*Shell, *discovery.StaticScanner, *bytes.Buffer) {
	t.Helper()
	ctl, err := controller.NewController(controller.ControllerConfig{})
	require.NoError(t, err)
	scanner := discovery.NewStaticScanner()
	out := &bytes.Buffer{}
	return NewShell(ctl, scanner, DefaultConfig(), out), scanner, out
}

func TestParseNodeID(t *testing.T) {
	id, err := parseNodeID("0x42")
	require.NoError(t, err)
	assert.Equal(t, fabric.NodeID(0x42), id)

	id, err = parseNodeID("1234")
	require.NoError(t, err)
	assert.Equal(t, fabric.NodeID(1234), id)

	for _, s := range []string{"", "node", "0", "0xFFFFFFFFFFFF0001"} {
		_, err := parseNodeID(s)
		assert.Error(t, err, s)
	}
}

func TestParseCommissionArgs(t *testing.T) {
	s, scanner, _ := newTestShell(t)

	t.Run("manual code", func(t *testing.T) {
		var options controller.CommissionOptions
		require.NoError(t, s.parseCommissionArgs([]string{"2412-9507533", "10.0.0.5:5540"}, &options))
		assert.Equal(t, uint32(12345679), options.Passcode)
		require.NotNil(t, options.Identifier.Discriminator)
		assert.True(t, options.Identifier.ShortDiscriminator)
		assert.Equal(t, uint16(0xA), *options.Identifier.Discriminator)
		require.NotNil(t, options.KnownAddress)
		assert.Equal(t, transport.UDPAddress("10.0.0.5", 5540), *options.KnownAddress)
	})

	t.Run("QR code", func(t *testing.T) {
		var options controller.CommissionOptions
		require.NoError(t, s.parseCommissionArgs([]string{"MT:M5L90MP500K64J00000"}, &options))
		assert.Equal(t, uint32(2048), options.Passcode)
		require.NotNil(t, options.Identifier.Discriminator)
		assert.False(t, options.Identifier.ShortDiscriminator)
		assert.Equal(t, uint16(128), *options.Identifier.Discriminator)
		assert.True(t, options.Capabilities.Has(payload.CapabilitySoftAP))
		assert.Nil(t, options.KnownAddress)
	})

	t.Run("passcode and discriminator", func(t *testing.T) {
		var options controller.CommissionOptions
		require.NoError(t, s.parseCommissionArgs([]string{"20202021", "3840"}, &options))
		assert.Equal(t, uint32(20202021), options.Passcode)
		assert.Equal(t, uint16(3840), *options.Identifier.Discriminator)
	})

	t.Run("scan result", func(t *testing.T) {
		d := discovery.CommissionableDevice{
			InstanceID: "ABCDEF0123456789",
			Addresses:  []transport.ServerAddress{transport.UDPAddress("10.0.0.5", 5540)},
		}
		d.Discriminator = 3840
		scanner.AddCommissionable(d)

		var out bytes.Buffer
		s.out = &out
		s.Execute(context.Background(), "discover 3840")
		assert.Contains(t, out.String(), "#0")

		var options controller.CommissionOptions
		require.NoError(t, s.parseCommissionArgs([]string{"20202021", "#0"}, &options))
		require.NotNil(t, options.Device)
		assert.Equal(t, "ABCDEF0123456789", options.Device.InstanceID)

		assert.Error(t, s.parseCommissionArgs([]string{"20202021", "#1"}, &options))
	})

	t.Run("errors", func(t *testing.T) {
		var options controller.CommissionOptions
		assert.Error(t, s.parseCommissionArgs(nil, &options))
		assert.Error(t, s.parseCommissionArgs([]string{"20202021"}, &options))
		assert.Error(t, s.parseCommissionArgs([]string{"pin"}, &options))
		assert.Error(t, s.parseCommissionArgs([]string{"20202021", "disc"}, &options))
		assert.Error(t, s.parseCommissionArgs([]string{"20202021", "3840", "nowhere"}, &options))
	})
}

func TestShellExecute(t *testing.T) {
	s, _, out := newTestShell(t)
	ctx := context.Background()

	assert.False(t, s.Execute(ctx, ""))
	assert.False(t, s.Execute(ctx, "help"))
	assert.Contains(t, out.String(), "commission <code>")

	out.Reset()
	s.Execute(ctx, "nodes")
	assert.Contains(t, out.String(), "No commissioned nodes")

	out.Reset()
	s.Execute(ctx, "status")
	assert.Contains(t, out.String(), "Started:     false")

	out.Reset()
	s.Execute(ctx, "frobnicate")
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	out.Reset()
	s.Execute(ctx, "remove 0x42")
	assert.Contains(t, out.String(), controller.ErrNotStarted.Error())

	out.Reset()
	s.Execute(ctx, "connect")
	assert.Contains(t, out.String(), "missing node ID")

	assert.True(t, s.Execute(ctx, "quit"))
}
