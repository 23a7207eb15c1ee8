package commissioning

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Orzech99/matter.js/pkg/fabric"
)

func newMockFailSafe(maxCumulative time.Duration) (*FailSafeTimer, *clock.Mock, *atomic.Int32) {
	mock := clock.NewMock()
	f := NewFailSafeTimer(FailSafeConfig{Clock: mock, MaxCumulative: maxCumulative})
	var expired atomic.Int32
	f.OnExpire(func() { expired.Add(1) })
	return f, mock, &expired
}

func TestFailSafeExpiryRollsBack(t *testing.T) {
	f, mock, expired := newMockFailSafe(0)

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, DefaultFailSafeExpiry))
	assert.True(t, f.IsArmed())
	assert.Equal(t, DefaultFailSafeExpiry, f.RemainingTime())

	mock.Add(DefaultFailSafeExpiry - time.Second)
	assert.True(t, f.IsArmed())
	assert.Equal(t, int32(0), expired.Load())

	mock.Add(2 * time.Second)
	assert.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, f.IsArmed())
	assert.Zero(t, f.RemainingTime())
	assert.True(t, f.ExpiresAt().IsZero())
}

func TestFailSafeExtensionCappedByMaxCumulative(t *testing.T) {
	f, mock, _ := newMockFailSafe(100 * time.Second)
	start := mock.Now()

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 60*time.Second))
	mock.Add(50 * time.Second)
	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 60*time.Second))
	assert.Equal(t, start.Add(100*time.Second), f.ExpiresAt())
	assert.Equal(t, 100*time.Second, f.MaxCumulative())
}

func TestFailSafeExtensionReplacesTimer(t *testing.T) {
	f, mock, expired := newMockFailSafe(0)

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second))
	mock.Add(5 * time.Second)
	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second))

	mock.Add(6 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), expired.Load(), "the first deadline no longer applies")
	assert.True(t, f.IsArmed())

	mock.Add(5 * time.Second)
	assert.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFailSafeDisarmKeepsChanges(t *testing.T) {
	f, mock, expired := newMockFailSafe(0)

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second))
	f.Disarm()
	assert.False(t, f.IsArmed())

	mock.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), expired.Load())
}

func TestFailSafeZeroExpiryExpiresNow(t *testing.T) {
	f, _, expired := newMockFailSafe(0)

	// Disarming an idle fail-safe is a no-op.
	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 0))
	assert.Equal(t, int32(0), expired.Load())

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second))
	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 0))
	assert.Equal(t, int32(1), expired.Load())
	assert.False(t, f.IsArmed())

	assert.ErrorIs(t, f.Arm(fabric.FabricIndexInvalid, -time.Second), ErrValueOutsideRange)
}

func TestFailSafeBusyWithOtherAdmin(t *testing.T) {
	f, _, _ := newMockFailSafe(0)

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second))
	f.SetFabricIndex(1)
	assert.Equal(t, fabric.FabricIndex(1), f.FabricIndex())

	assert.ErrorIs(t, f.Arm(2, 10*time.Second), ErrBusyWithOtherAdmin)
	assert.NoError(t, f.Arm(1, 10*time.Second))
	assert.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second), "the PASE commissioner may extend")

	f.Disarm()
	assert.Equal(t, fabric.FabricIndexInvalid, f.FabricIndex())
	assert.NoError(t, f.Arm(2, 10*time.Second))
}

func TestFailSafeObserverCancel(t *testing.T) {
	f, _, _ := newMockFailSafe(0)
	var calls atomic.Int32
	cancel := f.OnExpire(func() { calls.Add(1) })
	cancel()
	cancel()

	require.NoError(t, f.Arm(fabric.FabricIndexInvalid, 10*time.Second))
	f.Expire()
	assert.Equal(t, int32(0), calls.Load())
}
