// Package config also carries the per-deployment settings internal/dispatch
// and internal/events need that aren't per-chain contract addresses: how
// deep to wait for confirmations, how often to poll, and how long Alice's
// alpha refund timelock should be. This replaces the teacher's order-book/
// coin-registry settings file — this repo has no order book.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SwapConfig holds the settings internal/dispatch's Bitcoin/Ethereum
// Dispatcher needs beyond the P2P node's own Config (internal/node).
type SwapConfig struct {
	// BitcoinConfirmations and BitcoinPollInterval configure the event source
	// watching the Bitcoin alpha leg through an internal/backend data source.
	BitcoinConfirmations int64 `yaml:"bitcoin_confirmations"`
	BitcoinPollInterval  time.Duration `yaml:"bitcoin_poll_interval"`

	// EthereumRPCURL is the JSON-RPC endpoint internal/contracts/htlc.Client
	// dials to watch and build calldata for the SwapHTLC contract.
	EthereumRPCURL     string        `yaml:"ethereum_rpc_url"`
	EthereumChainID    uint64        `yaml:"ethereum_chain_id"`
	EthereumPollInterval time.Duration `yaml:"ethereum_poll_interval"`

	// AlphaRefundBlocks is the relative CSV timelock, in blocks, every
	// Bitcoin alpha leg this node initiates as Alice requests (§4.9: alpha's
	// timeout must exceed beta's by enough margin that Bob can never be
	// forced to refund beta after Alice's alpha refund window opens).
	AlphaRefundBlocks uint32 `yaml:"alpha_refund_blocks"`

	// SwapTimeout bounds how long the underlying P2P transport keeps
	// retrying an undelivered negotiation message before giving up.
	SwapTimeout int64 `yaml:"swap_timeout_seconds"`
}

// DefaultSwapConfig returns the settings a new deployment starts from absent
// an on-disk override: 1 Bitcoin confirmation, a 15s poll interval on both
// legs, a 144-block (~1 day) alpha refund window, and a 24h message-retry
// budget.
func DefaultSwapConfig() *SwapConfig {
	return &SwapConfig{
		BitcoinConfirmations: 1,
		BitcoinPollInterval:  15 * time.Second,
		EthereumPollInterval: 15 * time.Second,
		AlphaRefundBlocks:    144,
		SwapTimeout:          24 * 60 * 60,
	}
}

// LoadSwapConfig reads a swap.yaml from dataDir, falling back to defaults
// (and writing them out) if none exists yet — the same bootstrap pattern
// internal/node.LoadConfig uses for its own config file.
func LoadSwapConfig(dataDir string) (*SwapConfig, error) {
	path := dataDir + "/swap.yaml"
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultSwapConfig()
		out, marshalErr := yaml.Marshal(cfg)
		if marshalErr != nil {
			return nil, fmt.Errorf("config: marshal default swap config: %w", marshalErr)
		}
		if writeErr := os.WriteFile(path, out, 0644); writeErr != nil {
			return nil, fmt.Errorf("config: write default swap config: %w", writeErr)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read swap config: %w", err)
	}

	cfg := DefaultSwapConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse swap config: %w", err)
	}
	return cfg, nil
}
