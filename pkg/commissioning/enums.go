package commissioning

import "fmt"

// State is the position of a commissioning attempt.
type State int

const (
	// StateDiscovering is the initial state and the state a failed step
	// rolls back to.
	StateDiscovering State = iota

	// StatePaseHandshake indicates a PASE session is being established.
	StatePaseHandshake

	// StateFailSafeArmed indicates the device fail-safe is armed.
	StateFailSafeArmed

	// StateCredentialsInstalled indicates the root certificate and NOC are
	// installed on the device.
	StateCredentialsInstalled

	// StateNetworkConfigured indicates the device has joined its operational
	// network.
	StateNetworkConfigured

	// StateReconnectingCase indicates the commissioner is establishing CASE
	// with the new operational identity.
	StateReconnectingCase

	// StateComplete indicates commissioning completed.
	StateComplete

	// StateFailed indicates the attempt was abandoned.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "Discovering"
	case StatePaseHandshake:
		return "PaseHandshake"
	case StateFailSafeArmed:
		return "FailSafeArmed"
	case StateCredentialsInstalled:
		return "CredentialsInstalled"
	case StateNetworkConfigured:
		return "NetworkConfigured"
	case StateReconnectingCase:
		return "ReconnectingCase"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// IsTerminal reports whether the attempt can make no further progress.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// RegulatoryLocation is where the device is installed.
type RegulatoryLocation uint8

const (
	RegulatoryIndoor        RegulatoryLocation = 0
	RegulatoryOutdoor       RegulatoryLocation = 1
	RegulatoryIndoorOutdoor RegulatoryLocation = 2
)

// String returns the location name.
func (l RegulatoryLocation) String() string {
	switch l {
	case RegulatoryIndoor:
		return "Indoor"
	case RegulatoryOutdoor:
		return "Outdoor"
	case RegulatoryIndoorOutdoor:
		return "IndoorOutdoor"
	default:
		return fmt.Sprintf("RegulatoryLocation(%d)", uint8(l))
	}
}

// NetworkFeatures is the set of network interfaces a device can be
// commissioned onto.
type NetworkFeatures uint8

const (
	NetworkFeatureWiFi     NetworkFeatures = 1 << 0
	NetworkFeatureThread   NetworkFeatures = 1 << 1
	NetworkFeatureEthernet NetworkFeatures = 1 << 2
)

// Has reports whether all of want are present.
func (f NetworkFeatures) Has(want NetworkFeatures) bool { return f&want == want }

// RequiresProvisioning reports whether the device needs network
// credentials before it is reachable operationally.
func (f NetworkFeatures) RequiresProvisioning() bool {
	return !f.Has(NetworkFeatureEthernet) && f&(NetworkFeatureWiFi|NetworkFeatureThread) != 0
}

// String returns the feature names joined by "|".
func (f NetworkFeatures) String() string {
	if f == 0 {
		return "None"
	}
	s := ""
	for _, e := range []struct {
		bit  NetworkFeatures
		name string
	}{
		{NetworkFeatureWiFi, "WiFi"},
		{NetworkFeatureThread, "Thread"},
		{NetworkFeatureEthernet, "Ethernet"},
	} {
		if f.Has(e.bit) {
			if s != "" {
				s += "|"
			}
			s += e.name
		}
	}
	return s
}
