package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"proofnet/internal/logging"
)

// ValidationMode determines the strictness of configuration validation
type ValidationMode string

const (
	ValidationModeProduction  ValidationMode = "production"
	ValidationModeDevelopment ValidationMode = "development"
	ValidationModeTest        ValidationMode = "test"
)

// ConfigValidator collects errors and warnings. In production mode
// warnings are promoted to errors.
type ConfigValidator struct {
	mode     ValidationMode
	errors   []string
	warnings []string
}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	mode := ValidationModeDevelopment

	if envMode := os.Getenv(EnvPrefix + "_MODE"); envMode != "" {
		switch strings.ToLower(envMode) {
		case "production", "prod":
			mode = ValidationModeProduction
		case "test", "testing":
			mode = ValidationModeTest
		case "development", "dev":
			mode = ValidationModeDevelopment
		}
	}

	return &ConfigValidator{mode: mode}
}

// Validate checks the configuration for issues
func (v *ConfigValidator) Validate(cfg *AppConfig) error {
	v.errors = nil
	v.warnings = nil

	v.validateNode(cfg)
	v.validateNetwork(cfg)
	v.validateGossip(cfg)
	v.validateWitness(cfg)
	v.validateStorage(cfg)
	v.validateEndpoints(cfg)
	v.validateTimeouts(cfg)

	if v.mode == ValidationModeProduction {
		v.errors = append(v.errors, v.warnings...)
		v.warnings = nil
	}
	if len(v.errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.errors, "\n"))
	}
	if len(v.warnings) > 0 && v.mode != ValidationModeTest {
		logging.Component("config").Warnf("Configuration warnings:\n%s", strings.Join(v.warnings, "\n"))
	}
	return nil
}

// Warnings returns the warnings from the last Validate call.
func (v *ConfigValidator) Warnings() []string { return v.warnings }

func (v *ConfigValidator) validateNode(cfg *AppConfig) {
	if strings.TrimSpace(cfg.Node.Name) == "" {
		v.errors = append(v.errors, "node.name is required")
	}
	if len(cfg.Node.Keys) == 0 && cfg.Node.KeyDir == "" {
		v.warnings = append(v.warnings, "no authority keys configured, node will observe only")
	}
}

func (v *ConfigValidator) validateNetwork(cfg *AppConfig) {
	genesis, err := cfg.Network.Genesis()
	if err != nil {
		v.errors = append(v.errors, err.Error())
		return
	}
	if len(genesis) != 32 {
		v.errors = append(v.errors, fmt.Sprintf("network.genesis_hash must be 32 bytes, got %d", len(genesis)))
	}
	if strings.ContainsAny(cfg.Network.ForkID, "/ ") {
		v.errors = append(v.errors, fmt.Sprintf("network.fork_id must not contain '/' or spaces: %q", cfg.Network.ForkID))
	}
}

func (v *ConfigValidator) validateGossip(cfg *AppConfig) {
	g := cfg.Gossip
	if !g.Enable {
		v.warnings = append(v.warnings, "gossip disabled, proofs require a single node quorum")
		return
	}
	switch g.Transport {
	case "memberlist":
		if g.BindPort < 0 || g.BindPort > 65535 {
			v.errors = append(v.errors, fmt.Sprintf("gossip.bind_port out of range: %d", g.BindPort))
		}
		if len(g.Seeds) == 0 {
			v.warnings = append(v.warnings, "gossip.seeds empty, waiting for peers to join")
		}
	case "local":
		v.warnings = append(v.warnings, "gossip.transport local only reaches in-process peers")
	default:
		v.errors = append(v.errors, fmt.Sprintf("unknown gossip.transport %q", g.Transport))
	}
	if g.RetentionWindow == 0 {
		v.warnings = append(v.warnings, "gossip.retention_window 0 discards votes for the previous set immediately")
	}
	if g.FutureWindow == 0 {
		v.errors = append(v.errors, "gossip.future_window must be at least 1")
	}
}

func (v *ConfigValidator) validateWitness(cfg *AppConfig) {
	if err := cfg.Witness.Policy().Validate(); err != nil {
		v.errors = append(v.errors, fmt.Sprintf("witness threshold: %v", err))
		return
	}
	// Anything at or below one half lets two disjoint quorums form.
	if 2*cfg.Witness.ThresholdNum <= cfg.Witness.ThresholdDenom {
		v.warnings = append(v.warnings, fmt.Sprintf("witness threshold %d/%d is not a majority",
			cfg.Witness.ThresholdNum, cfg.Witness.ThresholdDenom))
	}
}

func (v *ConfigValidator) validateStorage(cfg *AppConfig) {
	switch cfg.Storage.Backend {
	case "leveldb", "pebble":
		if cfg.Storage.Path == "" {
			v.errors = append(v.errors, fmt.Sprintf("storage.path required for %s backend", cfg.Storage.Backend))
		}
	case "memory":
		v.warnings = append(v.warnings, "storage.backend memory loses proofs on restart")
	default:
		v.errors = append(v.errors, fmt.Sprintf("unknown storage.backend %q", cfg.Storage.Backend))
	}
}

func (v *ConfigValidator) validateEndpoints(cfg *AppConfig) {
	if cfg.Metrics.Enabled {
		v.validateListen("metrics.listen_addr", cfg.Metrics.ListenAddr)
	}
	if cfg.RPC.Enabled {
		v.validateListen("rpc.listen_addr", cfg.RPC.ListenAddr)
	}
	if cfg.Chain.ABCIAddr == "" {
		v.errors = append(v.errors, "chain.abci_addr is required")
	}
}

func (v *ConfigValidator) validateListen(name, addr string) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		v.errors = append(v.errors, fmt.Sprintf("%s invalid: %v", name, err))
		return
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		v.errors = append(v.errors, fmt.Sprintf("%s port not numeric: %q", name, port))
		return
	}
	if portNum > 65535 {
		v.errors = append(v.errors, fmt.Sprintf("%s port out of range: %d", name, portNum))
	}
	if portNum > 0 && portNum < 1024 {
		v.warnings = append(v.warnings, fmt.Sprintf("%s uses privileged port %d (< 1024)", name, portNum))
	}
}

func (v *ConfigValidator) validateTimeouts(cfg *AppConfig) {
	t := cfg.Timeouts
	if t.RetryInterval > 0 && t.RetryInterval < 10*time.Millisecond {
		v.errors = append(v.errors, fmt.Sprintf("retry_interval too short: %v", t.RetryInterval))
	}
	if t.PersistMaxInterval > 0 && t.PersistMaxInterval < t.PersistInitialInterval {
		v.errors = append(v.errors, fmt.Sprintf("persist_max_interval %v below persist_initial_interval %v",
			t.PersistMaxInterval, t.PersistInitialInterval))
	}
	if t.RebroadcastInterval > 0 && t.RebroadcastInterval < t.RetryInterval {
		v.warnings = append(v.warnings, fmt.Sprintf("rebroadcast_interval %v shorter than retry_interval %v",
			t.RebroadcastInterval, t.RetryInterval))
	}
}

// LogSummary prints the effective configuration.
func LogSummary(cfg *AppConfig, logger logging.Logger) {
	logger.Infof("node=%s storage=%s:%s gossip=%v/%s threshold=%d/%d",
		cfg.Node.Name,
		cfg.Storage.Backend, cfg.Storage.Path,
		cfg.Gossip.Enable, cfg.Gossip.Transport,
		cfg.Witness.ThresholdNum, cfg.Witness.ThresholdDenom,
	)
	logger.Infof("abci=%s(%s) rpc=%v@%s metrics=%v@%s",
		cfg.Chain.ABCIAddr, cfg.Chain.Transport,
		cfg.RPC.Enabled, cfg.RPC.ListenAddr,
		cfg.Metrics.Enabled, cfg.Metrics.ListenAddr,
	)
}
