package commissioning

import (
	"bytes"
	"context"
	"slices"
	"sync"
)

// DefaultMaxNetworks is the number of networks a NetworkTable holds.
const DefaultMaxNetworks = 1

// Network is one provisioned operational network. Exactly one of
// WiFiCredentials and ThreadDataset is meaningful, by Type.
type Network struct {
	ID   []byte
	Type NetworkFeatures

	WiFiCredentials []byte
	ThreadDataset   []byte
}

// NetworkCommissioning is the device capability provisioning the
// operational network. Changes are pending until Commit; Revert restores
// the last committed set.
type NetworkCommissioning interface {
	Features() NetworkFeatures
	AddOrUpdateNetwork(n Network) (index int, err error)
	ConnectNetwork(ctx context.Context, id []byte) error
	Commit()
	Revert()
}

// ConnectFunc joins the network on the device's radio.
type ConnectFunc func(ctx context.Context, n Network) error

// NetworkTableConfig configures a NetworkTable.
type NetworkTableConfig struct {
	// Features defaults to Ethernet.
	Features NetworkFeatures

	// MaxNetworks defaults to DefaultMaxNetworks.
	MaxNetworks int

	// Connect joins a network. Nil succeeds immediately.
	Connect ConnectFunc
}

// NetworkTable implements NetworkCommissioning for a device with one kind
// of interface.
//
// Thread Safety: All methods are safe for concurrent use.
type NetworkTable struct {
	config NetworkTableConfig

	mu        sync.Mutex
	committed []Network
	networks  []Network
	connected []byte
}

// NewNetworkTable creates an empty table.
func NewNetworkTable(config NetworkTableConfig) *NetworkTable {
	if config.Features == 0 {
		config.Features = NetworkFeatureEthernet
	}
	if config.MaxNetworks <= 0 {
		config.MaxNetworks = DefaultMaxNetworks
	}
	return &NetworkTable{config: config}
}

// Features implements NetworkCommissioning.
func (t *NetworkTable) Features() NetworkFeatures { return t.config.Features }

// AddOrUpdateNetwork implements NetworkCommissioning.
func (t *NetworkTable) AddOrUpdateNetwork(n Network) (int, error) {
	if n.Type == NetworkFeatureEthernet || !t.config.Features.Has(n.Type) {
		return 0, ErrNetworkUnsupported
	}
	if len(n.ID) == 0 || len(n.ID) > 32 {
		return 0, ErrValueOutsideRange
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.networks {
		if bytes.Equal(t.networks[i].ID, n.ID) {
			t.networks[i] = n
			return i, nil
		}
	}
	if len(t.networks) >= t.config.MaxNetworks {
		return 0, ErrNetworkTableFull
	}
	t.networks = append(t.networks, n)
	return len(t.networks) - 1, nil
}

// ConnectNetwork implements NetworkCommissioning.
func (t *NetworkTable) ConnectNetwork(ctx context.Context, id []byte) error {
	t.mu.Lock()
	i := slices.IndexFunc(t.networks, func(n Network) bool { return bytes.Equal(n.ID, id) })
	if i < 0 {
		t.mu.Unlock()
		return ErrNetworkNotFound
	}
	n := t.networks[i]
	t.mu.Unlock()

	if t.config.Connect != nil {
		if err := t.config.Connect(ctx, n); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.connected = bytes.Clone(id)
	t.mu.Unlock()
	return nil
}

// Connected returns the ID of the joined network, or nil.
func (t *NetworkTable) Connected() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Networks returns the provisioned networks, pending ones included.
func (t *NetworkTable) Networks() []Network {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.networks)
}

// Commit implements NetworkCommissioning.
func (t *NetworkTable) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = slices.Clone(t.networks)
}

// Revert implements NetworkCommissioning.
func (t *NetworkTable) Revert() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.networks = slices.Clone(t.committed)
	if t.connected != nil && !slices.ContainsFunc(t.networks, func(n Network) bool { return bytes.Equal(n.ID, t.connected) }) {
		t.connected = nil
	}
}
