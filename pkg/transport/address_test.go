package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortServerAddressesUDPFirstStable(t *testing.T) {
	addrs := []ServerAddress{
		BLEAddress("ble-1"),
		UDPAddress("fe80::1", 5540),
		BLEAddress("ble-2"),
		UDPAddress("10.0.0.5", 5540),
	}
	SortServerAddresses(addrs)

	assert.Equal(t, []ServerAddress{
		UDPAddress("fe80::1", 5540),
		UDPAddress("10.0.0.5", 5540),
		BLEAddress("ble-1"),
		BLEAddress("ble-2"),
	}, addrs)
}

func TestServerAddress(t *testing.T) {
	a, err := ParseUDPAddress("10.0.0.5:5540")
	require.NoError(t, err)
	assert.Equal(t, UDPAddress("10.0.0.5", 5540), a)
	assert.Equal(t, "udp://10.0.0.5:5540", a.String())
	assert.Equal(t, "udp://[fe80::1]:5540", UDPAddress("fe80::1", 5540).String())
	assert.Equal(t, "ble://AA:BB", BLEAddress("AA:BB").String())

	assert.True(t, UDPAddress("::ffff:10.0.0.5", 5540).Equal(a))
	assert.False(t, UDPAddress("10.0.0.5", 5541).Equal(a))
	assert.False(t, BLEAddress("x").Equal(a))

	for _, bad := range []string{"10.0.0.5", "host:5540", "10.0.0.5:0", "10.0.0.5:99999"} {
		_, err := ParseUDPAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}
