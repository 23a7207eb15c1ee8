package discovery

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Orzech99/matter.js/pkg/session"
)

// TXT keys of commissionable and operational records.
const (
	txtDiscriminator     = "D"
	txtCommissioningMode = "CM"
	txtVendorProduct     = "VP"
	txtDeviceName        = "DN"
	txtIdleInterval      = "SII"
	txtActiveInterval    = "SAI"
	txtActiveThreshold   = "SAT"
)

// MaxDeviceNameLength bounds the DN key.
const MaxDeviceNameLength = 32

// CommissioningMode is the CM key.
type CommissioningMode uint8

const (
	CommissioningModeDisabled CommissioningMode = iota
	CommissioningModeBasic
	CommissioningModeEnhanced
)

// CommissionableTXT is the content of a _matterc._udp TXT record.
type CommissionableTXT struct {
	Discriminator     uint16
	CommissioningMode CommissioningMode
	VendorID          uint16
	ProductID         uint16
	DeviceName        string

	// Params carries the announced MRP intervals. Zero fields are omitted.
	Params session.Params
}

// Encode renders the record as key=value strings.
func (t *CommissionableTXT) Encode() []string {
	txt := []string{
		fmt.Sprintf("%s=%d", txtDiscriminator, t.Discriminator),
		fmt.Sprintf("%s=%d", txtCommissioningMode, t.CommissioningMode),
	}
	if t.VendorID != 0 || t.ProductID != 0 {
		txt = append(txt, fmt.Sprintf("%s=%d+%d", txtVendorProduct, t.VendorID, t.ProductID))
	}
	if t.DeviceName != "" {
		txt = append(txt, txtDeviceName+"="+t.DeviceName)
	}
	return append(txt, encodeParams(t.Params)...)
}

// Validate checks the fields that have bounded ranges.
func (t *CommissionableTXT) Validate() error {
	if t.Discriminator > 0xFFF {
		return fmt.Errorf("%w: discriminator %d", ErrInvalidTXT, t.Discriminator)
	}
	if len(t.DeviceName) > MaxDeviceNameLength {
		return fmt.Errorf("%w: device name too long", ErrInvalidTXT)
	}
	return nil
}

// ParseCommissionableTXT parses a _matterc._udp TXT record. The D key is
// required.
func ParseCommissionableTXT(records []string) (CommissionableTXT, error) {
	m := parseTXT(records)
	var t CommissionableTXT

	d, ok := m[txtDiscriminator]
	if !ok {
		return t, fmt.Errorf("%w: missing %s", ErrInvalidTXT, txtDiscriminator)
	}
	v, err := strconv.ParseUint(d, 10, 12)
	if err != nil {
		return t, fmt.Errorf("%w: %s=%q", ErrInvalidTXT, txtDiscriminator, d)
	}
	t.Discriminator = uint16(v)

	if cm, ok := m[txtCommissioningMode]; ok {
		v, err := strconv.ParseUint(cm, 10, 8)
		if err != nil {
			return t, fmt.Errorf("%w: %s=%q", ErrInvalidTXT, txtCommissioningMode, cm)
		}
		t.CommissioningMode = CommissioningMode(v)
	}

	if vp, ok := m[txtVendorProduct]; ok {
		vid, pid, hasPID := strings.Cut(vp, "+")
		v, err := strconv.ParseUint(vid, 10, 16)
		if err != nil {
			return t, fmt.Errorf("%w: %s=%q", ErrInvalidTXT, txtVendorProduct, vp)
		}
		t.VendorID = uint16(v)
		if hasPID {
			v, err := strconv.ParseUint(pid, 10, 16)
			if err != nil {
				return t, fmt.Errorf("%w: %s=%q", ErrInvalidTXT, txtVendorProduct, vp)
			}
			t.ProductID = uint16(v)
		}
	}

	t.DeviceName = m[txtDeviceName]
	t.Params, err = parseParams(m)
	return t, err
}

// OperationalTXT renders the TXT record of a _matter._tcp instance.
func OperationalTXT(p session.Params) []string {
	return encodeParams(p)
}

func encodeParams(p session.Params) []string {
	var txt []string
	for _, kv := range []struct {
		key string
		d   time.Duration
	}{
		{txtIdleInterval, p.IdleInterval},
		{txtActiveInterval, p.ActiveInterval},
		{txtActiveThreshold, p.ActiveThreshold},
	} {
		if kv.d > 0 {
			txt = append(txt, fmt.Sprintf("%s=%d", kv.key, kv.d.Milliseconds()))
		}
	}
	return txt
}

func parseParams(m map[string]string) (session.Params, error) {
	var p session.Params
	for key, dst := range map[string]*time.Duration{
		txtIdleInterval:    &p.IdleInterval,
		txtActiveInterval:  &p.ActiveInterval,
		txtActiveThreshold: &p.ActiveThreshold,
	} {
		s, ok := m[key]
		if !ok {
			continue
		}
		ms, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return p, fmt.Errorf("%w: %s=%q", ErrInvalidTXT, key, s)
		}
		*dst = time.Duration(ms) * time.Millisecond
	}
	return p, nil
}

func parseTXT(records []string) map[string]string {
	m := make(map[string]string, len(records))
	for _, r := range records {
		if k, v, ok := strings.Cut(r, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}
