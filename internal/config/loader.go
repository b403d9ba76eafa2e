package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"proofnet/internal/types"
)

// EnvPrefix is prepended to every environment override, e.g.
// PROOFNET_STORAGE_BACKEND=pebble.
const EnvPrefix = "PROOFNET"

type AppConfig struct {
	Node     NodeConfig    `mapstructure:"node" yaml:"node"`
	Network  NetworkConfig `mapstructure:"network" yaml:"network"`
	Gossip   GossipConfig  `mapstructure:"gossip" yaml:"gossip"`
	Witness  WitnessConfig `mapstructure:"witness" yaml:"witness"`
	Storage  StorageConfig `mapstructure:"storage" yaml:"storage"`
	Metrics  MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	RPC      RPCConfig     `mapstructure:"rpc" yaml:"rpc"`
	Chain    ChainConfig   `mapstructure:"chain" yaml:"chain"`
	Log      LogConfig     `mapstructure:"log" yaml:"log"`
	Timeouts TimeoutConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// NodeConfig identifies the local node and where its authority keys live.
type NodeConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Keys are hex encoded secp256k1 private keys.
	Keys   []string `mapstructure:"keys" yaml:"keys"`
	KeyDir string   `mapstructure:"key_dir" yaml:"key_dir"`
}

type NetworkConfig struct {
	GenesisHash string `mapstructure:"genesis_hash" yaml:"genesis_hash"`
	ForkID      string `mapstructure:"fork_id" yaml:"fork_id"`
}

// Genesis decodes the configured genesis hash.
func (c NetworkConfig) Genesis() ([]byte, error) {
	b, err := hexutil.Decode(c.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("invalid network.genesis_hash: %w", err)
	}
	return b, nil
}

type GossipConfig struct {
	Enable             bool     `mapstructure:"enable" yaml:"enable"`
	Transport          string   `mapstructure:"transport" yaml:"transport"`
	BindAddress        string   `mapstructure:"bind_address" yaml:"bind_address"`
	BindPort           int      `mapstructure:"bind_port" yaml:"bind_port"`
	AdvertiseAddress   string   `mapstructure:"advertise_address" yaml:"advertise_address"`
	AdvertisePort      int      `mapstructure:"advertise_port" yaml:"advertise_port"`
	Seeds              []string `mapstructure:"seeds" yaml:"seeds"`
	GossipIntervalRaw  string   `mapstructure:"gossip_interval" yaml:"gossip_interval"`
	ProbeIntervalRaw   string   `mapstructure:"probe_interval" yaml:"probe_interval"`
	RetransmitMult     int      `mapstructure:"retransmit_mult" yaml:"retransmit_mult"`
	InboxSize          int      `mapstructure:"inbox_size" yaml:"inbox_size"`
	RetentionWindow    uint64   `mapstructure:"retention_window" yaml:"retention_window"`
	FutureWindow       uint64   `mapstructure:"future_window" yaml:"future_window"`
	SeenCacheSize      int      `mapstructure:"seen_cache_size" yaml:"seen_cache_size"`
	CompletedCacheSize int      `mapstructure:"completed_cache_size" yaml:"completed_cache_size"`

	GossipInterval time.Duration `mapstructure:"-" yaml:"-"`
	ProbeInterval  time.Duration `mapstructure:"-" yaml:"-"`
}

// WitnessConfig holds the fallback quorum policy and vote buffering limits.
type WitnessConfig struct {
	ThresholdNum     int `mapstructure:"threshold_num" yaml:"threshold_num"`
	ThresholdDenom   int `mapstructure:"threshold_denom" yaml:"threshold_denom"`
	MaxBufferedVotes int `mapstructure:"max_buffered_votes" yaml:"max_buffered_votes"`
}

func (c WitnessConfig) Policy() types.ThresholdPolicy {
	return types.ThresholdPolicy{Num: c.ThresholdNum, Denom: c.ThresholdDenom}
}

type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

type RPCConfig struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr       string `mapstructure:"listen_addr" yaml:"listen_addr"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns a single node development configuration.
func Default() *AppConfig {
	return &AppConfig{
		Node: NodeConfig{Name: "proofnode-0", KeyDir: ""},
		Network: NetworkConfig{
			GenesisHash: "0x0000000000000000000000000000000000000000000000000000000000000000",
		},
		Gossip: GossipConfig{
			Enable:             true,
			Transport:          "memberlist",
			BindAddress:        "0.0.0.0",
			BindPort:           7946,
			GossipIntervalRaw:  "200ms",
			ProbeIntervalRaw:   "1s",
			RetransmitMult:     4,
			InboxSize:          1024,
			RetentionWindow:    1,
			FutureWindow:       1,
			SeenCacheSize:      8192,
			CompletedCacheSize: 500,
		},
		Witness: WitnessConfig{
			ThresholdNum:     2,
			ThresholdDenom:   3,
			MaxBufferedVotes: 4096,
		},
		Storage:  StorageConfig{Backend: "leveldb", Path: "data/proofs"},
		Metrics:  MetricsConfig{Enabled: true, ListenAddr: ":9095"},
		RPC:      RPCConfig{Enabled: true, ListenAddr: ":9090", SubscriberBuffer: 64},
		Chain:    *DefaultChainConfig(),
		Log:      LogConfig{Level: "info", Format: "text"},
		Timeouts: *DefaultTimeoutConfig(),
	}
}

func (c *GossipConfig) normalize() error {
	parseDuration := func(raw string, def time.Duration) (time.Duration, error) {
		if strings.TrimSpace(raw) == "" {
			return def, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, err
		}
		return d, nil
	}

	var err error
	c.GossipInterval, err = parseDuration(c.GossipIntervalRaw, 200*time.Millisecond)
	if err != nil {
		return fmt.Errorf("invalid gossip.gossip_interval: %w", err)
	}
	c.ProbeInterval, err = parseDuration(c.ProbeIntervalRaw, time.Second)
	if err != nil {
		return fmt.Errorf("invalid gossip.probe_interval: %w", err)
	}
	if c.Transport == "" {
		c.Transport = "memberlist"
	}
	if c.RetransmitMult <= 0 {
		c.RetransmitMult = 4
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.SeenCacheSize <= 0 {
		c.SeenCacheSize = 8192
	}
	if c.CompletedCacheSize <= 0 {
		c.CompletedCacheSize = 500
	}
	return nil
}

func (c *AppConfig) normalize() error {
	if err := c.Gossip.normalize(); err != nil {
		return err
	}
	if err := c.Chain.Normalize(); err != nil {
		return err
	}
	c.Timeouts.normalize()
	if c.Storage.Backend == "" {
		c.Storage.Backend = "leveldb"
	}
	if c.RPC.SubscriberBuffer <= 0 {
		c.RPC.SubscriberBuffer = 64
	}
	if c.Witness.MaxBufferedVotes <= 0 {
		c.Witness.MaxBufferedVotes = 4096
	}
	return nil
}

// Validate reports configuration errors. Warnings are logged.
func (c *AppConfig) Validate() error {
	return NewConfigValidator().Validate(c)
}

// Load reads path on top of the defaults and applies PROOFNET_* environment
// overrides. An empty path loads defaults and environment only.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seeding viper with the defaults registers every key, which AutomaticEnv
	// needs to resolve overrides during Unmarshal.
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
