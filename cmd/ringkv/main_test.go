package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "ringkv v"+Version+"\n", out)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel logrus.Level
		wantErr   bool
	}{
		{"text info", "info", "text", logrus.InfoLevel, false},
		{"json debug", "debug", "json", logrus.DebugLevel, false},
		{"default format", "warn", "", logrus.WarnLevel, false},
		{"bad level", "loud", "text", 0, true},
		{"bad format", "info", "xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.level, tt.format, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, logger.GetLevel())
		})
	}
}

func TestSimulateCmd_DefaultScenario(t *testing.T) {
	out, err := execute(t, "simulate", "--nodes", "5", "--log-level", "error")
	require.NoError(t, err)

	assert.Contains(t, out, "scenario default: 200 ticks, 4 live nodes")
	assert.Contains(t, out, "CREATE")
	assert.Contains(t, out, "failed node")
}

func TestSimulateCmd_InvalidScenario(t *testing.T) {
	_, err := execute(t, "simulate", "--ticks", "10", "--log-level", "error")
	assert.Error(t, err, "steps past the last tick are rejected")
}

func TestServeCmd_RequiresOwnEndpoint(t *testing.T) {
	_, err := execute(t, "serve", "--node", "2:0", "--peers", "1:0=127.0.0.1:7001", "--log-level", "error")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
