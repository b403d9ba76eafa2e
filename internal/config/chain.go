package config

import (
	"fmt"
	"strings"
)

// ChainConfig holds the settings of the ABCI application that feeds
// finalized blocks to the worker.
type ChainConfig struct {
	ABCIAddr  string `mapstructure:"abci_addr" yaml:"abci_addr"`
	Transport string `mapstructure:"transport" yaml:"transport"`
	// RecentBlocks bounds the history kept for backfill lookups.
	RecentBlocks int `mapstructure:"recent_blocks" yaml:"recent_blocks"`
	// FinalizedBuffer is the capacity of the finalized block channel.
	FinalizedBuffer int `mapstructure:"finalized_buffer" yaml:"finalized_buffer"`
}

// DefaultChainConfig returns default chain configuration.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		ABCIAddr:        "tcp://127.0.0.1:26658",
		Transport:       "socket",
		RecentBlocks:    256,
		FinalizedBuffer: 64,
	}
}

// Normalize applies defaults.
func (c *ChainConfig) Normalize() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = "socket"
	}
	if c.Transport != "socket" && c.Transport != "grpc" {
		return fmt.Errorf("invalid chain.transport %q: expected socket or grpc", c.Transport)
	}
	if c.RecentBlocks <= 0 {
		c.RecentBlocks = 256
	}
	if c.FinalizedBuffer <= 0 {
		c.FinalizedBuffer = 64
	}
	return nil
}
