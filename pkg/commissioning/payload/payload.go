// Package payload produces and parses onboarding payloads: the "MT:" QR code
// string and the 11 or 21 digit manual pairing code.
package payload

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// Passcode bounds. The upper bound keeps the value inside 27 bits.
const (
	PasscodeMin = 1
	PasscodeMax = 99999998
)

// Discriminator widths.
const (
	DiscriminatorBits      = 12
	ShortDiscriminatorBits = 4
	DiscriminatorMax       = 1<<DiscriminatorBits - 1
)

var (
	ErrInvalidPasscode      = errors.New("payload: invalid passcode")
	ErrInvalidDiscriminator = errors.New("payload: invalid discriminator")
	ErrInvalidVersion       = errors.New("payload: unsupported version")
	ErrInvalidFlow          = errors.New("payload: invalid commissioning flow")
	ErrShortDiscriminator   = errors.New("payload: QR code needs the full discriminator")
	ErrInvalidFormat        = errors.New("payload: malformed code")
	ErrCheckDigit           = errors.New("payload: check digit mismatch")
)

// forbidden passcodes are trivially guessable and never accepted.
var forbidden = map[uint32]struct{}{
	0: {}, 11111111: {}, 22222222: {}, 33333333: {}, 44444444: {}, 55555555: {},
	66666666: {}, 77777777: {}, 88888888: {}, 99999999: {}, 12345678: {}, 87654321: {},
}

// ValidatePasscode rejects out-of-range and forbidden passcodes.
func ValidatePasscode(passcode uint32) error {
	if _, ok := forbidden[passcode]; ok {
		return fmt.Errorf("%w: %08d is forbidden", ErrInvalidPasscode, passcode)
	}
	if passcode < PasscodeMin || passcode > PasscodeMax {
		return fmt.Errorf("%w: %d out of range", ErrInvalidPasscode, passcode)
	}
	return nil
}

// ValidateDiscriminator checks that d fits in 12 bits.
func ValidateDiscriminator(d uint16) error {
	if d > DiscriminatorMax {
		return fmt.Errorf("%w: %d", ErrInvalidDiscriminator, d)
	}
	return nil
}

// RandomPasscode draws a valid passcode from r, or crypto/rand when r is nil.
func RandomPasscode(r io.Reader) (uint32, error) {
	if r == nil {
		r = rand.Reader
	}
	for {
		n, err := rand.Int(r, big.NewInt(PasscodeMax))
		if err != nil {
			return 0, err
		}
		passcode := uint32(n.Int64()) + PasscodeMin
		if ValidatePasscode(passcode) == nil {
			return passcode, nil
		}
	}
}

// RandomDiscriminator draws a 12-bit discriminator.
func RandomDiscriminator(r io.Reader) (uint16, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, big.NewInt(DiscriminatorMax+1))
	if err != nil {
		return 0, err
	}
	return uint16(n.Int64()), nil
}

// CommissioningFlow tells the commissioner how the device enters pairing mode.
type CommissioningFlow uint8

const (
	FlowStandard CommissioningFlow = iota
	FlowUserIntent
	FlowCustom
)

func (f CommissioningFlow) String() string {
	switch f {
	case FlowStandard:
		return "Standard"
	case FlowUserIntent:
		return "UserIntent"
	case FlowCustom:
		return "Custom"
	}
	return fmt.Sprintf("CommissioningFlow(%d)", uint8(f))
}

// DiscoveryCapabilities is the QR code bitmask of supported discovery methods.
type DiscoveryCapabilities uint8

const (
	CapabilitySoftAP DiscoveryCapabilities = 1 << iota
	CapabilityBLE
	CapabilityOnNetwork
)

// Has reports whether every bit of c is set.
func (d DiscoveryCapabilities) Has(c DiscoveryCapabilities) bool { return d&c == c }

func (d DiscoveryCapabilities) String() string {
	var names []string
	for _, c := range []struct {
		bit  DiscoveryCapabilities
		name string
	}{{CapabilitySoftAP, "SoftAP"}, {CapabilityBLE, "BLE"}, {CapabilityOnNetwork, "OnNetwork"}} {
		if d.Has(c.bit) {
			names = append(names, c.name)
		}
	}
	if rest := d &^ (CapabilitySoftAP | CapabilityBLE | CapabilityOnNetwork); rest != 0 {
		names = append(names, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Payload is the content of an onboarding code.
type Payload struct {
	Version   uint8
	VendorID  uint16
	ProductID uint16
	Flow      CommissioningFlow

	// Capabilities is only carried by QR codes.
	Capabilities DiscoveryCapabilities

	// Discriminator holds 12 bits, or only the upper 4 when
	// ShortDiscriminator is set (manual codes).
	Discriminator      uint16
	ShortDiscriminator bool

	Passcode uint32

	// Extension is the optional trailing data of a QR code, kept opaque.
	Extension []byte
}

// Validate checks the fields shared by both code formats.
func (p *Payload) Validate() error {
	if p.Version != 0 {
		return ErrInvalidVersion
	}
	if p.Flow > FlowCustom {
		return ErrInvalidFlow
	}
	if p.ShortDiscriminator && p.Discriminator > 1<<ShortDiscriminatorBits-1 {
		return fmt.Errorf("%w: short value %d", ErrInvalidDiscriminator, p.Discriminator)
	}
	if err := ValidateDiscriminator(p.Discriminator); err != nil {
		return err
	}
	return ValidatePasscode(p.Passcode)
}

// ShortValue returns the upper 4 discriminator bits.
func (p *Payload) ShortValue() uint8 {
	if p.ShortDiscriminator {
		return uint8(p.Discriminator)
	}
	return uint8(p.Discriminator >> (DiscriminatorBits - ShortDiscriminatorBits))
}

// MatchesDiscriminator reports whether a device announcing the 12-bit
// discriminator d is the one this payload describes.
func (p *Payload) MatchesDiscriminator(d uint16) bool {
	if p.ShortDiscriminator {
		return uint8(d>>(DiscriminatorBits-ShortDiscriminatorBits)) == uint8(p.Discriminator)
	}
	return d == p.Discriminator
}

// Parse accepts either a QR code string or a manual pairing code.
func Parse(code string) (*Payload, error) {
	if strings.HasPrefix(strings.TrimSpace(code), qrPrefix) {
		return ParseQRCode(code)
	}
	return ParseManualCode(code)
}
