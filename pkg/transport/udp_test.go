package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	ch   Channel
	data []byte
}

func TestUDPSendReceive(t *testing.T) {
	nets := newVNet(t, "10.0.0.1", "10.0.0.5")

	controller, err := NewUDP(UDPConfig{Net: nets[0], ListenAddr: "10.0.0.1:0"})
	require.NoError(t, err)
	defer controller.Close()

	device, err := NewUDP(UDPConfig{Net: nets[1], ListenAddr: "10.0.0.5:5540"})
	require.NoError(t, err)
	defer device.Close()

	received := make(chan frame, 1)
	device.OnData(func(ch Channel, data []byte) { received <- frame{ch, data} })

	replies := make(chan frame, 1)
	controller.OnData(func(ch Channel, data []byte) { replies <- frame{ch, data} })

	ctx := context.Background()
	ch, err := controller.OpenChannel(ctx, UDPAddress("10.0.0.5", 5540))
	require.NoError(t, err)
	assert.Equal(t, "udp://10.0.0.5:5540", ch.Name())

	again, err := controller.OpenChannel(ctx, UDPAddress("10.0.0.5", 5540))
	require.NoError(t, err)
	assert.Same(t, ch, again)

	require.NoError(t, ch.Send(ctx, []byte("hello")))

	var in frame
	select {
	case in = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("device did not receive frame")
	}
	assert.Equal(t, []byte("hello"), in.data)
	assert.Equal(t, "10.0.0.1", in.ch.RemoteAddress().IP)

	require.NoError(t, in.ch.Send(ctx, []byte("world")))
	select {
	case out := <-replies:
		assert.Equal(t, []byte("world"), out.data)
		assert.Same(t, ch, out.ch)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not receive reply")
	}
}

func TestUDPErrors(t *testing.T) {
	nets := newVNet(t, "10.0.0.1")
	u, err := NewUDP(UDPConfig{Net: nets[0], ListenAddr: "10.0.0.1:0"})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = u.OpenChannel(ctx, BLEAddress("AA:BB"))
	assert.ErrorIs(t, err, ErrUnsupportedAddress)
	_, err = u.OpenChannel(ctx, UDPAddress("not-an-ip", 1))
	assert.ErrorIs(t, err, ErrInvalidAddress)

	ch, err := u.OpenChannel(ctx, UDPAddress("10.0.0.9", 5540))
	require.NoError(t, err)
	assert.ErrorIs(t, ch.Send(ctx, make([]byte, MaxMessageSize+1)), ErrMessageTooLarge)

	require.NoError(t, u.Close())
	require.NoError(t, u.Close())
	assert.ErrorIs(t, ch.Send(ctx, []byte{1}), ErrClosed)
	_, err = u.OpenChannel(ctx, UDPAddress("10.0.0.9", 5540))
	assert.ErrorIs(t, err, ErrClosed)
}
