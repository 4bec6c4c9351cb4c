package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ringkv/internal/address"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[address.Address]string
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  map[address.Address]string{},
		},
		{
			name:  "single peer",
			input: "1:0=127.0.0.1:7001",
			want: map[address.Address]string{
				address.New(1, 0): "127.0.0.1:7001",
			},
		},
		{
			name:  "multiple peers",
			input: "1:0=127.0.0.1:7001,2:0=127.0.0.1:7002,3:0=127.0.0.1:7003",
			want: map[address.Address]string{
				address.New(1, 0): "127.0.0.1:7001",
				address.New(2, 0): "127.0.0.1:7002",
				address.New(3, 0): "127.0.0.1:7003",
			},
		},
		{
			name:  "with spaces and bare id",
			input: "1 = 127.0.0.1:7001 , 2:5 = 127.0.0.1:7002",
			want: map[address.Address]string{
				address.New(1, 0): "127.0.0.1:7001",
				address.New(2, 5): "127.0.0.1:7002",
			},
		},
		{name: "invalid format - no equals", input: "1:0@127.0.0.1:7001", wantErr: true},
		{name: "invalid format - empty address", input: "=127.0.0.1:7001", wantErr: true},
		{name: "invalid format - empty endpoint", input: "1:0=", wantErr: true},
		{name: "invalid address", input: "n1=127.0.0.1:7001", wantErr: true},
		{name: "duplicate peer", input: "1:0=a:1,1=b:2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	d := Default()
	require.NoError(t, d.Validate())
	assert.Equal(t, int64(5), d.FailTimeout)
	assert.Equal(t, 3, d.Fanout)
	assert.Equal(t, int64(10), d.TxTimeout)
	assert.Equal(t, uint32(512), d.RingSpace)
	assert.Equal(t, address.New(1, 0), d.IntroducerAddress())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad node", func(c *Config) { c.Node = "x" }},
		{"bad introducer", func(c *Config) { c.Introducer = "" }},
		{"zero fail timeout", func(c *Config) { c.FailTimeout = 0 }},
		{"zero fanout", func(c *Config) { c.Fanout = 0 }},
		{"negative tx timeout", func(c *Config) { c.TxTimeout = -1 }},
		{"tiny ring space", func(c *Config) { c.RingSpace = 2 }},
		{"drop rate above one", func(c *Config) { c.DropRate = 1.5 }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad peers", func(c *Config) { c.Peers = "1:0" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}

func newFlagViper(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_FlagsOverrideDefaults(t *testing.T) {
	fs := newFlagViper(t, "--node=3:0", "--fail-timeout=7", "--drop-rate=0.1", "--tick-interval=250ms")
	v, err := NewViper(fs)
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, address.New(3, 0), cfg.Address())
	assert.Equal(t, int64(7), cfg.FailTimeout)
	assert.Equal(t, 0.1, cfg.DropRate)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 3, cfg.Fanout, "untouched flags keep defaults")

	nc := cfg.NodeConfig(cfg.Address())
	assert.Equal(t, address.New(1, 0), nc.Introducer)
	assert.Equal(t, int64(7), nc.FailTimeout)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("RINGKV_TX_TIMEOUT", "25")
	t.Setenv("RINGKV_PEERS", "1:0=127.0.0.1:7001")

	v, err := NewViper(newFlagViper(t))
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, int64(25), cfg.TxTimeout)
	assert.Equal(t, "1:0=127.0.0.1:7001", cfg.Peers)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ringkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fanout: 4\nring-space: 1024\nintroducer: \"2:0\"\n"), 0o600))

	v, err := NewViper(newFlagViper(t, "--config="+path, "--fanout=2"))
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, uint32(1024), cfg.RingSpace)
	assert.Equal(t, address.New(2, 0), cfg.IntroducerAddress())
	assert.Equal(t, 2, cfg.Fanout, "flags win over the file")
}

func TestLoad_InvalidRejected(t *testing.T) {
	v, err := NewViper(newFlagViper(t, "--fanout=0"))
	require.NoError(t, err)
	_, err = Load(v)
	assert.ErrorIs(t, err, ErrInvalid)

	v, err = NewViper(newFlagViper(t, "--config=/does/not/exist.yaml"))
	require.NoError(t, err)
	_, err = Load(v)
	assert.Error(t, err)
}

func TestLoad_WithoutFlags(t *testing.T) {
	v, err := NewViper(nil)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
