package transport

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// ServerAddress is a tagged union of the ways to reach a peer:
// {Type: udp, IP, Port} or {Type: ble, PeripheralAddress}.
type ServerAddress struct {
	Type AddressType `cbor:"1,keyasint" yaml:"type"`

	IP   string `cbor:"2,keyasint,omitempty" yaml:"ip,omitempty"`
	Port uint16 `cbor:"3,keyasint,omitempty" yaml:"port,omitempty"`

	PeripheralAddress string `cbor:"4,keyasint,omitempty" yaml:"peripheralAddress,omitempty"`
}

// UDPAddress creates a UDP server address.
func UDPAddress(ip string, port uint16) ServerAddress {
	return ServerAddress{Type: AddressTypeUDP, IP: ip, Port: port}
}

// BLEAddress creates a BLE server address.
func BLEAddress(peripheral string) ServerAddress {
	return ServerAddress{Type: AddressTypeBLE, PeripheralAddress: peripheral}
}

// UDPAddressFromNet converts a resolved UDP address.
func UDPAddressFromNet(addr *net.UDPAddr) ServerAddress {
	return UDPAddress(addr.IP.String(), uint16(addr.Port))
}

// ParseUDPAddress parses "host:port" with a literal IP.
func ParseUDPAddress(s string) (ServerAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return ServerAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServerAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	addr := UDPAddress(host, uint16(port))
	if !addr.IsValid() {
		return ServerAddress{}, ErrInvalidAddress
	}
	return addr, nil
}

// IsValid reports whether the fields required by Type are set.
func (a ServerAddress) IsValid() bool {
	switch a.Type {
	case AddressTypeUDP:
		return net.ParseIP(a.IP) != nil && a.Port != 0
	case AddressTypeBLE:
		return a.PeripheralAddress != ""
	default:
		return false
	}
}

// UDPAddr returns the address as *net.UDPAddr. Only valid for UDP addresses.
func (a ServerAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(a.IP), Port: int(a.Port)}
}

// String returns "udp://ip:port" or "ble://peripheral".
func (a ServerAddress) String() string {
	switch a.Type {
	case AddressTypeUDP:
		return "udp://" + net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
	case AddressTypeBLE:
		return "ble://" + a.PeripheralAddress
	default:
		return "unknown://"
	}
}

// Equal compares two addresses by value. IPs are compared semantically.
func (a ServerAddress) Equal(b ServerAddress) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case AddressTypeUDP:
		return a.Port == b.Port && net.ParseIP(a.IP).Equal(net.ParseIP(b.IP))
	case AddressTypeBLE:
		return a.PeripheralAddress == b.PeripheralAddress
	}
	return true
}

// SortServerAddresses orders UDP addresses before BLE ones, keeping the
// relative order within each group.
func SortServerAddresses(addrs []ServerAddress) {
	sort.SliceStable(addrs, func(i, j int) bool {
		return rank(addrs[i].Type) < rank(addrs[j].Type)
	})
}

func rank(t AddressType) int {
	switch t {
	case AddressTypeUDP:
		return 0
	case AddressTypeBLE:
		return 1
	default:
		return 2
	}
}
