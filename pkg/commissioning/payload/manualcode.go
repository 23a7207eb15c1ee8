package payload

import (
	"fmt"
	"strconv"
	"strings"
)

// Manual code lengths including the check digit.
const (
	ManualCodeLength     = 11
	LongManualCodeLength = 21
)

// ManualCode renders the decimal pairing code. The 21 digit form, carrying
// vendor and product IDs, is produced for the custom commissioning flow.
func (p *Payload) ManualCode() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	long := p.Flow == FlowCustom
	disc := uint32(p.ShortValue())
	chunk1 := disc >> 2
	if long {
		chunk1 |= 1 << 2
	}
	chunk2 := (disc&0x3)<<14 | p.Passcode&0x3FFF
	chunk3 := p.Passcode >> 14

	digits := fmt.Sprintf("%01d%05d%04d", chunk1, chunk2, chunk3)
	if long {
		digits += fmt.Sprintf("%05d%05d", p.VendorID, p.ProductID)
	}
	return digits + string(verhoeffDigit(digits)), nil
}

// ParseManualCode decodes an 11 or 21 digit code. Dashes and spaces are
// ignored.
func ParseManualCode(code string) (*Payload, error) {
	digits := strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, code)

	if len(digits) != ManualCodeLength && len(digits) != LongManualCodeLength {
		return nil, fmt.Errorf("%w: manual code has %d digits", ErrInvalidFormat, len(digits))
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: non-digit %q", ErrInvalidFormat, c)
		}
	}
	if !verhoeffValid(digits) {
		return nil, ErrCheckDigit
	}

	num := func(from, to int) uint32 {
		v, _ := strconv.ParseUint(digits[from:to], 10, 32)
		return uint32(v)
	}
	chunk1, chunk2, chunk3 := num(0, 1), num(1, 6), num(6, 10)
	if chunk1 > 7 || chunk2 > 0xFFFF || chunk3 > 0x1FFF {
		return nil, fmt.Errorf("%w: chunk out of range", ErrInvalidFormat)
	}

	long := chunk1&(1<<2) != 0
	if long != (len(digits) == LongManualCodeLength) {
		return nil, fmt.Errorf("%w: length does not match the vendor flag", ErrInvalidFormat)
	}

	p := &Payload{
		Discriminator:      uint16((chunk1&0x3)<<2 | chunk2>>14),
		ShortDiscriminator: true,
		Passcode:           chunk3<<14 | chunk2&0x3FFF,
	}
	if long {
		vid, pid := num(10, 15), num(15, 20)
		if vid > 0xFFFF || pid > 0xFFFF {
			return nil, fmt.Errorf("%w: vendor or product out of range", ErrInvalidFormat)
		}
		p.VendorID, p.ProductID = uint16(vid), uint16(pid)
		p.Flow = FlowCustom
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
