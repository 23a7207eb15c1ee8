package payload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference payload: VID 12, PID 1, SoftAP, discriminator 128, passcode 2048.
const referenceQR = "MT:M5L90MP500K64J00000"

func TestValidatePasscode(t *testing.T) {
	for _, p := range []uint32{0, 11111111, 22222222, 33333333, 44444444, 55555555,
		66666666, 77777777, 88888888, 99999999, 12345678, 87654321, 99999999 + 1, 1 << 27} {
		assert.ErrorIs(t, ValidatePasscode(p), ErrInvalidPasscode, "%d", p)
	}
	for _, p := range []uint32{1, 20202021, 20241225, 34567890, PasscodeMax} {
		assert.NoError(t, ValidatePasscode(p), "%d", p)
	}
}

func TestRandom(t *testing.T) {
	for range 50 {
		p, err := RandomPasscode(nil)
		require.NoError(t, err)
		require.NoError(t, ValidatePasscode(p))

		d, err := RandomDiscriminator(nil)
		require.NoError(t, err)
		require.NoError(t, ValidateDiscriminator(d))
	}
}

func TestQRCode(t *testing.T) {
	p, err := ParseQRCode(referenceQR)
	require.NoError(t, err)
	assert.Equal(t, &Payload{
		VendorID:      12,
		ProductID:     1,
		Flow:          FlowStandard,
		Capabilities:  CapabilitySoftAP,
		Discriminator: 128,
		Passcode:      2048,
	}, p)

	code, err := p.QRCode()
	require.NoError(t, err)
	assert.Equal(t, referenceQR, code)

	device := &Payload{
		VendorID:      0xFFF1,
		ProductID:     0x8000,
		Capabilities:  CapabilityOnNetwork,
		Discriminator: 3840,
		Passcode:      34567890,
		Extension:     []byte{0x15, 0x18},
	}
	code, err = device.QRCode()
	require.NoError(t, err)
	back, err := Parse(code)
	require.NoError(t, err)
	assert.Equal(t, device, back)
}

func TestQRCodeErrors(t *testing.T) {
	for name, code := range map[string]string{
		"prefix":       "AT:M5L90MP500K64J00000",
		"empty":        "",
		"concatenated": referenceQR + "*M5L90U.D010K4J00000",
		"short":        "MT:M5L90",
		"bad length":   "MT:M5L90MP500K64J0000",
		"bad char":     "MT:M5L90MP500K64J0000!",
	} {
		_, err := ParseQRCode(code)
		assert.ErrorIs(t, err, ErrInvalidFormat, name)
	}

	_, err := (&Payload{Discriminator: 0xA, ShortDiscriminator: true, Passcode: 2048}).QRCode()
	assert.ErrorIs(t, err, ErrShortDiscriminator)
	_, err = (&Payload{Discriminator: 128, Passcode: 11111111}).QRCode()
	assert.ErrorIs(t, err, ErrInvalidPasscode)
}

func TestManualCode(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		code    string
	}{
		{
			name:    "short",
			payload: Payload{Discriminator: 2560, Passcode: 12345679},
			code:    "24129507533",
		},
		{
			name:    "long",
			payload: Payload{Discriminator: 2560, Passcode: 12345679, VendorID: 45367, ProductID: 14526, Flow: FlowCustom},
			code:    "641295075345367145262",
		},
		{
			name:    "long zero ids",
			payload: Payload{Discriminator: 2560, Passcode: 12345679, Flow: FlowCustom},
			code:    "641295075300000000008",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := tt.payload.ManualCode()
			require.NoError(t, err)
			assert.Equal(t, tt.code, code)

			p, err := ParseManualCode(tt.code)
			require.NoError(t, err)
			assert.True(t, p.ShortDiscriminator)
			assert.Equal(t, uint16(0xA), p.Discriminator)
			assert.Equal(t, tt.payload.Passcode, p.Passcode)
			assert.Equal(t, tt.payload.VendorID, p.VendorID)
			assert.Equal(t, tt.payload.ProductID, p.ProductID)
			assert.True(t, p.MatchesDiscriminator(2560))
			assert.True(t, p.MatchesDiscriminator(2561))
			assert.False(t, p.MatchesDiscriminator(128))
		})
	}

	p, err := Parse("2412-9507 533")
	require.NoError(t, err)
	assert.Equal(t, uint32(12345679), p.Passcode)
}

func TestManualCodeErrors(t *testing.T) {
	_, err := ParseManualCode("24129507530")
	assert.ErrorIs(t, err, ErrCheckDigit)

	_, err = ParseManualCode("2412950753")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = ParseManualCode("2412950753a")
	assert.ErrorIs(t, err, ErrInvalidFormat)

	// Vendor flag set on a short code.
	digits := "6412950753"
	_, err = ParseManualCode(digits + string(verhoeffDigit(digits)))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestBase38(t *testing.T) {
	for _, data := range [][]byte{
		{}, {0}, {0xFF}, {0x01, 0x02}, {0xFF, 0xFF, 0xFF}, bytes.Repeat([]byte{0xA5}, 13),
	} {
		enc := encodeBase38(data)
		dec, err := decodeBase38(enc)
		require.NoError(t, err)
		assert.Equal(t, data, dec, "%x -> %s", data, enc)
	}

	_, err := decodeBase38("..")
	assert.ErrorIs(t, err, ErrInvalidFormat, "1443 does not fit one byte")
}

func TestVerhoeff(t *testing.T) {
	assert.Equal(t, byte('3'), verhoeffDigit("2412950753"))
	assert.True(t, verhoeffValid("24129507533"))
	assert.False(t, verhoeffValid("24129507534"))
	assert.Equal(t, byte('3'), verhoeffDigit("236"))
}

func TestCapabilitiesString(t *testing.T) {
	assert.Equal(t, "none", DiscoveryCapabilities(0).String())
	assert.Equal(t, "BLE|OnNetwork", (CapabilityBLE | CapabilityOnNetwork).String())
	assert.Equal(t, "Custom", FlowCustom.String())
}
