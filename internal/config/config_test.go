package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGenesis = "0x1111111111111111111111111111111111111111111111111111111111111111"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestConfigurationLoading(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "test")
	path := writeConfig(t, `
node:
  name: "validator-3"
  keys:
    - "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

network:
  genesis_hash: "`+testGenesis+`"
  fork_id: "v2"

gossip:
  transport: local
  gossip_interval: 50ms
  retention_window: 2

witness:
  threshold_num: 3
  threshold_denom: 4

storage:
  backend: pebble
  path: /tmp/proofs

timeouts:
  retry_interval: 500ms
  rebroadcast_interval: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "validator-3", cfg.Node.Name)
	assert.Len(t, cfg.Node.Keys, 1)
	assert.Equal(t, "v2", cfg.Network.ForkID)
	genesis, err := cfg.Network.Genesis()
	require.NoError(t, err)
	assert.Len(t, genesis, 32)

	assert.Equal(t, "local", cfg.Gossip.Transport)
	assert.Equal(t, 50*time.Millisecond, cfg.Gossip.GossipInterval)
	assert.Equal(t, time.Second, cfg.Gossip.ProbeInterval)
	assert.Equal(t, uint64(2), cfg.Gossip.RetentionWindow)
	assert.Equal(t, uint64(1), cfg.Gossip.FutureWindow)
	assert.Equal(t, 500, cfg.Gossip.CompletedCacheSize)

	policy := cfg.Witness.Policy()
	assert.Equal(t, 3, policy.Num)
	assert.Equal(t, 4, policy.Denom)

	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/proofs", cfg.Storage.Path)

	assert.Equal(t, 500*time.Millisecond, cfg.Timeouts.RetryInterval)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.RebroadcastInterval)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Timeouts.PersistMaxInterval)
	assert.Equal(t, "socket", cfg.Chain.Transport)
	assert.Equal(t, 256, cfg.Chain.RecentBlocks)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "test")
	t.Setenv("PROOFNET_STORAGE_BACKEND", "memory")
	t.Setenv("PROOFNET_GOSSIP_BIND_PORT", "8000")
	t.Setenv("PROOFNET_NODE_NAME", "from-env")

	path := writeConfig(t, "node:\n  name: from-file\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 8000, cfg.Gossip.BindPort)
	assert.Equal(t, "from-env", cfg.Node.Name)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "test")
	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Node.Name, cfg.Node.Name)
	assert.Equal(t, def.Gossip.BindPort, cfg.Gossip.BindPort)
	assert.Equal(t, 200*time.Millisecond, cfg.Gossip.GossipInterval)
	assert.Equal(t, def.Timeouts.RetryInterval, cfg.Timeouts.RetryInterval)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "test")
	cases := map[string]string{
		"bad duration":  "gossip:\n  gossip_interval: soon\n",
		"bad threshold": "witness:\n  threshold_num: 4\n  threshold_denom: 3\n",
		"bad genesis":   "network:\n  genesis_hash: \"0x1234\"\n",
		"bad backend":   "storage:\n  backend: rocksdb\n",
		"bad transport": "chain:\n  transport: http\n",
		"bad fork id":   "network:\n  fork_id: \"a/b\"\n",
		"empty name":    "node:\n  name: \"\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestProductionModePromotesWarnings(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "production")
	cfg := Default()
	require.NoError(t, cfg.normalize())

	// no keys configured is a warning in development
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authority keys")
}

func TestValidatorWarnings(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "test")
	cfg := Default()
	cfg.Storage.Backend = "memory"
	cfg.Witness.ThresholdNum = 1
	cfg.Witness.ThresholdDenom = 2
	require.NoError(t, cfg.normalize())

	v := NewConfigValidator()
	require.NoError(t, v.Validate(cfg))
	assert.Contains(t, v.Warnings(), "storage.backend memory loses proofs on restart")
	assert.Contains(t, v.Warnings(), "witness threshold 1/2 is not a majority")
}

func TestWriteDefault(t *testing.T) {
	t.Setenv(EnvPrefix+"_MODE", "test")
	path := filepath.Join(t.TempDir(), "nested", "proofnode.yaml")
	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "gossip_interval: 200ms")
	assert.Contains(t, string(data), "retry_interval: 2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Witness, cfg.Witness)
	assert.Equal(t, Default().Storage, cfg.Storage)
}
