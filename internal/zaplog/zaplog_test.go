package zaplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"trace", zapcore.DebugLevel},
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		l, err := ParseLevel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, l, tt.name)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
	_, err = New("loud")
	assert.Error(t, err)
}

func TestFactoryScopes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := NewFactory(zap.New(core))

	log := f.NewLogger("controller")
	log.Debugf("dropped %d", 1)
	log.Infof("commissioned node %s", "0x42")
	log.Warn("no BLE")
	f.NewLogger("exchange").Errorf("retransmission limit on %d", 7)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "controller", entries[0].LoggerName)
	assert.Equal(t, "commissioned node 0x42", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "exchange", entries[2].LoggerName)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestNilLoggerDiscards(t *testing.T) {
	log := NewFactory(nil).NewLogger("x")
	assert.NotPanics(t, func() { log.Errorf("nothing %d", 1) })
}
