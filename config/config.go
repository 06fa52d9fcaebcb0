package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID          string `json:"chain_id"`
	GenesisTimestamp int64  `json:"genesis_timestamp"` // unix seconds; timeslot 0
}

// ValidatorConfig is one entry of the static validator registry: who may
// ever become a signer, with what stake.
type ValidatorConfig struct {
	PubKey string `json:"pubkey"` // hex ed25519 public key
	Stake  uint64 `json:"stake"`
}

// EpochParamsConfig configures timeslot/round lengths, mirroring
// epoch.Params so it can be loaded from JSON.
type EpochParamsConfig struct {
	BlockTimeSeconds int64  `json:"block_time_seconds"`
	RoundDuration    uint64 `json:"round_duration"` // timeslots per round
}

// Config holds all node configuration.
type Config struct {
	NodeID       string            `json:"node_id"`
	DataDir      string            `json:"data_dir"`
	RPCPort      int               `json:"rpc_port"`
	P2PPort      int               `json:"p2p_port"`
	MaxBlockTxs  int               `json:"max_block_txs"` // loaded and defaulted to 500; the node engine does not read it
	Validators   []ValidatorConfig `json:"validators"`    // active signer set with stakes
	Epoch        EpochParamsConfig `json:"epoch"`
	Genesis      GenesisConfig     `json:"genesis"`
	SeedPeers    []SeedPeer        `json:"seed_peers,omitempty"`     // initial peers to connect to
	TLS          *TLSConfig        `json:"tls,omitempty"`            // nil → plain TCP
	RPCAuthToken string            `json:"rpc_auth_token,omitempty"` // empty → no auth
}

// DefaultConfig returns a single-node development configuration using the
// reference scenario parameters (BlockTime=5s, RoundDuration=2).
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCPort:     8545,
		P2PPort:     30303,
		MaxBlockTxs: 500,
		Epoch: EpochParamsConfig{
			BlockTimeSeconds: 5,
			RoundDuration:    2,
		},
		Genesis: GenesisConfig{
			ChainID:          "dagchain-dev",
			GenesisTimestamp: 0,
		},
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Genesis.ChainID == "" {
		return fmt.Errorf("genesis.chain_id must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if len(c.Validators) == 0 {
		return fmt.Errorf("validators list must not be empty")
	}
	for i, v := range c.Validators {
		b, err := hex.DecodeString(v.PubKey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("validators[%d]: pubkey must be 64-char hex (32 bytes ed25519 pubkey), got %q", i, v.PubKey)
		}
	}
	if c.Epoch.BlockTimeSeconds <= 0 {
		return fmt.Errorf("epoch.block_time_seconds must be positive, got %d", c.Epoch.BlockTimeSeconds)
	}
	if c.Epoch.RoundDuration == 0 {
		return fmt.Errorf("epoch.round_duration must be positive")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
