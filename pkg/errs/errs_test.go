package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := New(KindRetransmissionLimit, "exchange: max retransmissions exceeded")
	wrapped := fmt.Errorf("pair: %w", base)
	discovery := E(KindDiscovery, "discovery.Iterate", wrapped)

	assert.Equal(t, KindRetransmissionLimit, KindOf(base))
	assert.Equal(t, KindRetransmissionLimit, KindOf(wrapped))
	assert.Equal(t, KindDiscovery, KindOf(discovery))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIsMatchesAnyKindInChain(t *testing.T) {
	inner := New(KindRetransmissionLimit, "no answer")
	outer := E(KindDiscovery, "iterate", inner)

	assert.True(t, Is(outer, KindDiscovery))
	assert.True(t, Is(outer, KindRetransmissionLimit))
	assert.False(t, Is(outer, KindNoChannel))
	assert.True(t, errors.Is(outer, inner))
}

func TestENil(t *testing.T) {
	assert.NoError(t, E(KindValidation, "op", nil))
}

func TestErrorString(t *testing.T) {
	err := Errorf(KindValidation, "commissioning.ValidatePasscode", "passcode %d is not allowed", 11111111)
	assert.Equal(t, "commissioning.ValidatePasscode: passcode 11111111 is not allowed", err.Error())
	assert.Equal(t, "NoProvider", (&Error{Kind: KindNoProvider}).Error())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRetransmissionLimit, true},
		{KindPairingFailed, false},
		{KindDiscovery, false},
		{KindValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Retryable())
		})
	}
}
