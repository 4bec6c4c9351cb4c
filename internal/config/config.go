package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ringkv/internal/address"
	"ringkv/internal/membership"
	"ringkv/internal/node"
	"ringkv/internal/replication"
	"ringkv/internal/ring"
)

// EnvPrefix is the prefix of environment variables, e.g. RINGKV_FAIL_TIMEOUT.
const EnvPrefix = "ringkv"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the process configuration.
type Config struct {
	// Protocol
	Node          string
	Introducer    string
	FailTimeout   int64
	Fanout        int
	JoinTimeout   int64
	RemoveTimeout int64
	TxTimeout     int64
	RingSpace     uint32

	// Serve mode
	Peers        string
	TickInterval time.Duration
	AdminAddr    string

	// Simulation
	Nodes    int
	Ticks    int
	DropRate float64
	Seed     int64
	Scenario string

	// Logging
	LogLevel  string
	LogFormat string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Node:          "1:0",
		Introducer:    "1:0",
		FailTimeout:   membership.DefaultFailTimeout,
		Fanout:        membership.DefaultFanout,
		JoinTimeout:   membership.DefaultJoinTimeout,
		RemoveTimeout: membership.DefaultRemoveTimeout,
		TxTimeout:     replication.DefaultTimeout,
		RingSpace:     ring.DefaultSpace,
		TickInterval:  time.Second,
		AdminAddr:     "127.0.0.1:8080",
		Nodes:         10,
		Ticks:         200,
		Seed:          1,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// BindFlags registers every setting on fs with its default.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("config", "", "Path to a YAML config file")
	fs.String("node", d.Node, "Address of this node (id:port)")
	fs.String("introducer", d.Introducer, "Address of the introducer every node joins through")
	fs.Int64("fail-timeout", d.FailTimeout, "Ticks without a newer heartbeat before a member is evicted")
	fs.Int("fanout", d.Fanout, "Members each gossip round targets")
	fs.Int64("join-timeout", d.JoinTimeout, "Ticks a joining node waits for JOINREP")
	fs.Int64("remove-timeout", d.RemoveTimeout, "Ticks an evicted member stays evicted against stale gossip")
	fs.Int64("tx-timeout", d.TxTimeout, "Ticks a transaction may wait for quorum")
	fs.Uint32("ring-space", d.RingSpace, "Size of the consistent hashing space")
	fs.String("peers", "", "Network endpoints of the cluster: 'id:port=host:port,...'")
	fs.Duration("tick-interval", d.TickInterval, "Wall-clock duration of one tick in serve mode")
	fs.String("admin-addr", d.AdminAddr, "Listen address of the admin HTTP API (empty disables it)")
	fs.Int("nodes", d.Nodes, "Number of simulated nodes")
	fs.Int("ticks", d.Ticks, "Number of simulated ticks")
	fs.Float64("drop-rate", d.DropRate, "Probability that the simulated network loses a message")
	fs.Int64("seed", d.Seed, "Seed of the simulated network and workload")
	fs.String("scenario", "", "Path to a YAML simulation scenario")
	fs.String("log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-format", d.LogFormat, "Log format (text, json)")
}

// LoadEnvFiles loads .env and .env.local into the process environment.
// Missing files are ignored.
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// NewViper returns a viper instance reading RINGKV_* variables, with fs
// bound when non-nil.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load reads the configuration out of v. If the "config" key names a file
// it is merged in first; flags and environment still take precedence.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	d := Default()
	get := func(key string, fallback any) {
		if !v.IsSet(key) {
			v.SetDefault(key, fallback)
		}
	}
	get("node", d.Node)
	get("introducer", d.Introducer)
	get("fail-timeout", d.FailTimeout)
	get("fanout", d.Fanout)
	get("join-timeout", d.JoinTimeout)
	get("remove-timeout", d.RemoveTimeout)
	get("tx-timeout", d.TxTimeout)
	get("ring-space", d.RingSpace)
	get("tick-interval", d.TickInterval)
	get("admin-addr", d.AdminAddr)
	get("nodes", d.Nodes)
	get("ticks", d.Ticks)
	get("seed", d.Seed)
	get("log-level", d.LogLevel)
	get("log-format", d.LogFormat)

	cfg := Config{
		Node:          v.GetString("node"),
		Introducer:    v.GetString("introducer"),
		FailTimeout:   v.GetInt64("fail-timeout"),
		Fanout:        v.GetInt("fanout"),
		JoinTimeout:   v.GetInt64("join-timeout"),
		RemoveTimeout: v.GetInt64("remove-timeout"),
		TxTimeout:     v.GetInt64("tx-timeout"),
		RingSpace:     v.GetUint32("ring-space"),
		Peers:         v.GetString("peers"),
		TickInterval:  v.GetDuration("tick-interval"),
		AdminAddr:     v.GetString("admin-addr"),
		Nodes:         v.GetInt("nodes"),
		Ticks:         v.GetInt("ticks"),
		DropRate:      v.GetFloat64("drop-rate"),
		Seed:          v.GetInt64("seed"),
		Scenario:      v.GetString("scenario"),
		LogLevel:      v.GetString("log-level"),
		LogFormat:     v.GetString("log-format"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the protocol cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	_, err := address.Parse(c.Node)
	check(err == nil, "node %q", c.Node)
	_, err = address.Parse(c.Introducer)
	check(err == nil, "introducer %q", c.Introducer)
	check(c.FailTimeout > 0, "fail-timeout must be positive, got %d", c.FailTimeout)
	check(c.Fanout > 0, "fanout must be positive, got %d", c.Fanout)
	check(c.JoinTimeout > 0, "join-timeout must be positive, got %d", c.JoinTimeout)
	check(c.RemoveTimeout > 0, "remove-timeout must be positive, got %d", c.RemoveTimeout)
	check(c.TxTimeout > 0, "tx-timeout must be positive, got %d", c.TxTimeout)
	check(c.RingSpace >= ring.ReplicationFactor, "ring-space must be at least %d, got %d", ring.ReplicationFactor, c.RingSpace)
	check(c.TickInterval > 0, "tick-interval must be positive, got %s", c.TickInterval)
	check(c.Nodes >= 0, "nodes must not be negative, got %d", c.Nodes)
	check(c.Ticks >= 0, "ticks must not be negative, got %d", c.Ticks)
	check(c.DropRate >= 0 && c.DropRate <= 1, "drop-rate must be within [0,1], got %v", c.DropRate)
	check(c.LogFormat == "text" || c.LogFormat == "json", "log-format must be text or json, got %q", c.LogFormat)
	if _, err := ParsePeers(c.Peers); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	return errors.Join(errs...)
}

// Address returns the parsed node address.
func (c Config) Address() address.Address {
	a, _ := address.Parse(c.Node)
	return a
}

// IntroducerAddress returns the parsed introducer address.
func (c Config) IntroducerAddress() address.Address {
	a, _ := address.Parse(c.Introducer)
	return a
}

// NodeConfig returns the protocol settings of node self.
func (c Config) NodeConfig(self address.Address) node.Config {
	return node.Config{
		Self:          self,
		Introducer:    c.IntroducerAddress(),
		FailTimeout:   c.FailTimeout,
		Fanout:        c.Fanout,
		JoinTimeout:   c.JoinTimeout,
		RemoveTimeout: c.RemoveTimeout,
		TxTimeout:     c.TxTimeout,
		RingSpace:     c.RingSpace,
	}
}

// ParsePeers parses a comma-separated list of peers in the format:
// "1:0=127.0.0.1:7001,2:0=127.0.0.1:7002"
func ParsePeers(peersStr string) (map[address.Address]string, error) {
	peers := make(map[address.Address]string)
	if strings.TrimSpace(peersStr) == "" {
		return peers, nil
	}

	for _, part := range strings.Split(peersStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id:port=host:port)", part)
		}

		id := strings.TrimSpace(kv[0])
		endpoint := strings.TrimSpace(kv[1])
		if id == "" || endpoint == "" {
			return nil, fmt.Errorf("peer address and endpoint cannot be empty: %s", part)
		}

		addr, err := address.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", part, err)
		}
		if _, dup := peers[addr]; dup {
			return nil, fmt.Errorf("duplicate peer %s", addr)
		}
		peers[addr] = endpoint
	}

	return peers, nil
}
