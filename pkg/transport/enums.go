package transport

// AddressType identifies the transport of a ServerAddress.
type AddressType int

const (
	// AddressTypeUnknown is the zero value for unknown transport.
	AddressTypeUnknown AddressType = iota
	// AddressTypeUDP indicates an IP address and port over UDP.
	AddressTypeUDP
	// AddressTypeBLE indicates a BLE peripheral address.
	AddressTypeBLE
)

// String returns the string representation of the address type.
func (t AddressType) String() string {
	switch t {
	case AddressTypeUDP:
		return "udp"
	case AddressTypeBLE:
		return "ble"
	default:
		return "unknown"
	}
}

// IsValid returns true if the address type is a known valid type.
func (t AddressType) IsValid() bool {
	return t == AddressTypeUDP || t == AddressTypeBLE
}
