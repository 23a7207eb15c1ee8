package payload

import (
	"fmt"
	"strings"
)

const qrPrefix = "MT:"

// QR code field widths in packing order. The fixed part is 88 bits.
const (
	qrVersionBits       = 3
	qrVendorBits        = 16
	qrProductBits       = 16
	qrFlowBits          = 2
	qrCapabilitiesBits  = 8
	qrDiscriminatorBits = DiscriminatorBits
	qrPasscodeBits      = 27
	qrPaddingBits       = 4
	qrFixedBytes        = 11
)

// bitPacker writes fields least significant bit first.
type bitPacker struct {
	buf []byte
	pos int
}

func (b *bitPacker) put(v uint64, bits int) {
	for i := range bits {
		if v>>i&1 != 0 {
			b.buf[b.pos/8] |= 1 << (b.pos % 8)
		}
		b.pos++
	}
}

func (b *bitPacker) get(bits int) uint64 {
	var v uint64
	for i := range bits {
		if b.buf[b.pos/8]>>(b.pos%8)&1 != 0 {
			v |= 1 << i
		}
		b.pos++
	}
	return v
}

// QRCode renders p as an "MT:" string.
func (p *Payload) QRCode() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if p.ShortDiscriminator {
		return "", ErrShortDiscriminator
	}

	w := &bitPacker{buf: make([]byte, qrFixedBytes, qrFixedBytes+len(p.Extension))}
	w.put(uint64(p.Version), qrVersionBits)
	w.put(uint64(p.VendorID), qrVendorBits)
	w.put(uint64(p.ProductID), qrProductBits)
	w.put(uint64(p.Flow), qrFlowBits)
	w.put(uint64(p.Capabilities), qrCapabilitiesBits)
	w.put(uint64(p.Discriminator), qrDiscriminatorBits)
	w.put(uint64(p.Passcode), qrPasscodeBits)
	w.put(0, qrPaddingBits)

	return qrPrefix + encodeBase38(append(w.buf, p.Extension...)), nil
}

// ParseQRCode decodes a single "MT:" payload. Concatenated payloads joined
// with '*' are rejected.
func ParseQRCode(code string) (*Payload, error) {
	code = strings.TrimSpace(code)
	body, ok := strings.CutPrefix(code, qrPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidFormat, qrPrefix)
	}
	if strings.Contains(body, "*") {
		return nil, fmt.Errorf("%w: concatenated QR payloads", ErrInvalidFormat)
	}

	data, err := decodeBase38(body)
	if err != nil {
		return nil, err
	}
	if len(data) < qrFixedBytes {
		return nil, fmt.Errorf("%w: QR payload too short", ErrInvalidFormat)
	}

	r := &bitPacker{buf: data}
	p := &Payload{
		Version:       uint8(r.get(qrVersionBits)),
		VendorID:      uint16(r.get(qrVendorBits)),
		ProductID:     uint16(r.get(qrProductBits)),
		Flow:          CommissioningFlow(r.get(qrFlowBits)),
		Capabilities:  DiscoveryCapabilities(r.get(qrCapabilitiesBits)),
		Discriminator: uint16(r.get(qrDiscriminatorBits)),
		Passcode:      uint32(r.get(qrPasscodeBits)),
	}
	if len(data) > qrFixedBytes {
		p.Extension = data[qrFixedBytes:]
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
