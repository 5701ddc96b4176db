package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("debug", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = New("warn", "console")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestSanitizeDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"url form", "postgres://architex:s3cret@db:5432/architex?sslmode=disable", "postgres://architex:[REDACTED]@db:5432/architex?sslmode=disable"},
		{"key value form", "host=db user=architex password=s3cret dbname=architex", "host=db user=architex password=[REDACTED] dbname=architex"},
		{"no secret", "file:/data/architex.db?_pragma=busy_timeout(5000)", "file:/data/architex.db?_pragma=busy_timeout(5000)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeDSN(tt.in))
		})
	}
}

func TestSanitizeError(t *testing.T) {
	assert.Equal(t, "", SanitizeError(nil))

	err := errors.New("dial postgres://u:pw@host/db failed; header Bearer aaa.bbb.ccc")
	got := SanitizeError(err)
	assert.NotContains(t, got, "pw@")
	assert.NotContains(t, got, "aaa.bbb.ccc")
	assert.Contains(t, got, "u:[REDACTED]@host")
}
