package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type testConfig struct {
	log Config
}

func (c testConfig) GetLoggingConfig() Config {
	return c.log
}

func TestNew(t *testing.T) {
	l, err := New(Config{Type: StdErr, Level: 3})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l.Level())

	_, err = New(Config{Type: "carrier-pigeon", Level: 3})
	assert.Error(t, err)

	_, err = New(Config{Type: StdOut, Level: 9})
	assert.Error(t, err)

	_, err = New(Config{Type: LogFile, Level: 3})
	assert.Error(t, err)
}

func TestLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.log")
	l, err := New(Config{Type: LogFile, File: path, Level: 5, MaxSize: 1, NumRotatedFiles: 1})
	require.NoError(t, err)
	l.Debug("hello from the test")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
}

func TestUpdateConfiguration(t *testing.T) {
	l, err := New(Config{Type: StdErr, Level: 3})
	require.NoError(t, err)

	require.NoError(t, l.UpdateConfiguration(testConfig{log: Config{Level: 1}}))
	assert.Equal(t, zapcore.ErrorLevel, l.Level())

	assert.Error(t, l.UpdateConfiguration(testConfig{log: Config{Level: 7}}))
	assert.Equal(t, zapcore.ErrorLevel, l.Level())

	assert.Error(t, l.UpdateConfiguration("not a config"))
}
