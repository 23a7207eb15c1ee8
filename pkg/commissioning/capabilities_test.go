package commissioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegulatoryDefaults(t *testing.T) {
	r, err := NewRegulatoryState(RegulatoryOptions{LocationCapability: RegulatoryIndoorOutdoor})
	require.NoError(t, err)
	assert.Equal(t, RegulatoryConfig{Location: RegulatoryOutdoor, CountryCode: "XX"}, r.RegulatoryConfig())

	// The country stays fixed without AllowCountryCodeChange.
	assert.ErrorIs(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: RegulatoryIndoor, CountryCode: "DE"}), ErrCountryCodeChange)
	require.NoError(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: RegulatoryIndoor, CountryCode: "XX"}))
	assert.Equal(t, RegulatoryIndoor, r.RegulatoryConfig().Location)
}

func TestRegulatoryValidation(t *testing.T) {
	r, err := NewRegulatoryState(RegulatoryOptions{
		LocationCapability:     RegulatoryIndoor,
		AllowCountryCodeChange: true,
		AllowedCountryCodes:    []string{"US", "DE"},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: RegulatoryOutdoor, CountryCode: "XX"}), ErrValueOutsideRange)
	assert.ErrorIs(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: RegulatoryIndoor, CountryCode: "FR"}), ErrCountryCodeChange)
	assert.ErrorIs(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: RegulatoryIndoor, CountryCode: "usa"}), ErrValueOutsideRange)
	assert.ErrorIs(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: 7, CountryCode: "US"}), ErrValueOutsideRange)
	require.NoError(t, r.SetRegulatoryConfig(RegulatoryConfig{Location: RegulatoryIndoor, CountryCode: "DE"}))

	_, err = NewRegulatoryState(RegulatoryOptions{Initial: RegulatoryConfig{CountryCode: "x"}})
	assert.ErrorIs(t, err, ErrValueOutsideRange)
}

func TestNetworkTableCommitRevert(t *testing.T) {
	var joined []byte
	table := NewNetworkTable(NetworkTableConfig{
		Features: NetworkFeatureWiFi,
		Connect: func(_ context.Context, n Network) error {
			if string(n.WiFiCredentials) != "secret" {
				return errors.New("auth failure")
			}
			joined = n.ID
			return nil
		},
	})
	assert.True(t, table.Features().RequiresProvisioning())

	_, err := table.AddOrUpdateNetwork(Network{ID: []byte("thread"), Type: NetworkFeatureThread})
	assert.ErrorIs(t, err, ErrNetworkUnsupported)

	i, err := table.AddOrUpdateNetwork(Network{ID: []byte("home"), Type: NetworkFeatureWiFi, WiFiCredentials: []byte("wrong")})
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	assert.Error(t, table.ConnectNetwork(context.Background(), []byte("home")))
	assert.Nil(t, table.Connected())

	// Same ID updates in place.
	i, err = table.AddOrUpdateNetwork(Network{ID: []byte("home"), Type: NetworkFeatureWiFi, WiFiCredentials: []byte("secret")})
	require.NoError(t, err)
	assert.Equal(t, 0, i)
	_, err = table.AddOrUpdateNetwork(Network{ID: []byte("office"), Type: NetworkFeatureWiFi})
	assert.ErrorIs(t, err, ErrNetworkTableFull)

	assert.ErrorIs(t, table.ConnectNetwork(context.Background(), []byte("office")), ErrNetworkNotFound)
	require.NoError(t, table.ConnectNetwork(context.Background(), []byte("home")))
	assert.Equal(t, []byte("home"), joined)

	table.Revert()
	assert.Empty(t, table.Networks())
	assert.Nil(t, table.Connected())

	_, err = table.AddOrUpdateNetwork(Network{ID: []byte("home"), Type: NetworkFeatureWiFi, WiFiCredentials: []byte("secret")})
	require.NoError(t, err)
	table.Commit()
	table.Revert()
	assert.Len(t, table.Networks(), 1)
}

func TestNetworkFeatures(t *testing.T) {
	assert.False(t, NetworkFeatureEthernet.RequiresProvisioning())
	assert.False(t, (NetworkFeatureEthernet | NetworkFeatureWiFi).RequiresProvisioning())
	assert.True(t, NetworkFeatureThread.RequiresProvisioning())
	assert.Equal(t, "WiFi|Thread", (NetworkFeatureWiFi | NetworkFeatureThread).String())
	assert.Equal(t, "None", NetworkFeatures(0).String())
}

func TestThreadExtendedPANID(t *testing.T) {
	dataset := []byte{
		0x0e, 0x08, 0, 0, 0, 0, 0, 1, 0, 0, // active timestamp
		0x02, 0x08, 0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe,
		0x00, 0x03, 0x00, 0x00, 0x0f, // channel
	}
	id, ok := ThreadExtendedPANID(dataset)
	require.True(t, ok)
	assert.Equal(t, []byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}, id)

	_, ok = ThreadExtendedPANID([]byte{0x02, 0x08, 0x01})
	assert.False(t, ok)
	_, ok = ThreadExtendedPANID(nil)
	assert.False(t, ok)
}

func TestWindow(t *testing.T) {
	mock := clock.NewMock()
	var opened, closed int
	w := NewWindow(WindowConfig{
		Clock:   mock,
		OnOpen:  func() error { opened++; return nil },
		OnClose: func() { closed++ },
	})

	assert.ErrorIs(t, w.CloseCommissioningWindow(), ErrWindowClosed)
	assert.ErrorIs(t, w.OpenCommissioningWindow(MaxWindowTimeout+time.Second), ErrValueOutsideRange)

	require.NoError(t, w.OpenCommissioningWindow(MinWindowTimeout))
	assert.True(t, w.IsCommissioningWindowOpen())
	assert.ErrorIs(t, w.OpenCommissioningWindow(MinWindowTimeout), ErrWindowAlreadyOpen)

	mock.Add(MinWindowTimeout)
	assert.Eventually(t, func() bool { return !w.IsCommissioningWindowOpen() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)

	// Without a timeout the window stays open until closed.
	require.NoError(t, w.OpenCommissioningWindow(0))
	mock.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, w.IsCommissioningWindowOpen())
	require.NoError(t, w.CloseCommissioningWindow())
	assert.Equal(t, 2, closed)
}

func TestWindowOpenHookFailure(t *testing.T) {
	w := NewWindow(WindowConfig{OnOpen: func() error { return errors.New("advertiser down") }})
	assert.Error(t, w.OpenCommissioningWindow(0))
	assert.False(t, w.IsCommissioningWindowOpen())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "ReconnectingCase", StateReconnectingCase.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateNetworkConfigured.IsTerminal())
	assert.Equal(t, "BusyWithOtherAdmin", CommissioningBusyWithOtherAdmin.String())
	assert.Equal(t, "MissingCsr", NOCStatusMissingCSR.String())
	assert.Equal(t, "IndoorOutdoor", RegulatoryIndoorOutdoor.String())
}
