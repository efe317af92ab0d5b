package node

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"sidechain.dev/core/chain"
)

// Config is the core's full set of recognized knobs (§6), plus the ambient
// networking/logging fields every subsystem needs to be constructed.
type Config struct {
	Network  string   `json:"network"`
	DataDir  string   `json:"data_dir"`
	BindAddr string   `json:"bind_addr"`
	LogLevel string   `json:"log_level"`
	Peers    []string `json:"peers"`
	MaxPeers int      `json:"max_peers"`

	Witnesses               int           `json:"witnesses"`
	BlockTime                time.Duration `json:"block_time"`
	SyncBlockTime            time.Duration `json:"sync_block_time"`
	MaxTxPerBlock            int           `json:"max_tx_per_block"`
	ConsensusRounds          int           `json:"consensus_rounds"`
	WitnessShufflePrecision  int           `json:"witness_shuffle_precision"`
	WitnessReward            uint64        `json:"witness_reward"`
	BurnAccount              string        `json:"burn_account"`
	EcoBlocks                uint64        `json:"eco_blocks"`
	TxExpirationTime         time.Duration `json:"tx_expiration_time"`
	MaxDrift                 time.Duration `json:"max_drift"`
	MaxBatchBlocks           int           `json:"max_batch_blocks"`
	MaxRetryDelay            time.Duration `json:"max_retry_delay"`
	CircuitBreakerThreshold  int           `json:"circuit_breaker_threshold"`
	SyncEntryQuorumPercent   float64       `json:"sync_entry_quorum_percent"`
	SyncExitQuorumPercent    float64       `json:"sync_exit_quorum_percent"`
	MinWitnessesForQuorum    int           `json:"min_witnesses_for_quorum"`
	HeightExpiry             time.Duration `json:"height_expiry"`
	SteemBlockDelayThreshold uint64        `json:"steem_block_delay_threshold"`

	HashMode chain.HashMode `json:"hash_mode"`

	RebuildNoValidate    bool   `json:"-"` // REBUILD_NO_VALIDATE
	RebuildNoVerify      bool   `json:"-"` // REBUILD_NO_VERIFY
	RebuildWriteInterval uint64 `json:"-"` // REBUILD_WRITE_INTERVAL
	ReplayOutput         string `json:"-"` // REPLAY_OUTPUT
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// DefaultConfig returns the devnet defaults; loading from a file or the
// environment is a collaborator's concern, out of this core's scope.
func DefaultConfig() Config {
	return Config{
		Network:                  "devnet",
		BindAddr:                 "0.0.0.0:19333",
		LogLevel:                 "info",
		MaxPeers:                 64,
		Witnesses:                21,
		BlockTime:                3 * time.Second,
		SyncBlockTime:            500 * time.Millisecond,
		MaxTxPerBlock:            1000,
		ConsensusRounds:          3,
		WitnessShufflePrecision:  4,
		BurnAccount:              "null",
		EcoBlocks:                100_000,
		TxExpirationTime:         time.Hour,
		MaxDrift:                 500 * time.Millisecond,
		MaxBatchBlocks:           256,
		MaxRetryDelay:            30 * time.Second,
		CircuitBreakerThreshold:  5,
		SyncEntryQuorumPercent:   0.5,
		SyncExitQuorumPercent:    0.6,
		MinWitnessesForQuorum:    3,
		HeightExpiry:             30 * time.Second,
		SteemBlockDelayThreshold: 10,
		HashMode:                 chain.HashModeStableJSON,
		RebuildWriteInterval:     1000,
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the ambient and domain fields for obvious
// misconfiguration; it does not load anything from disk or the
// environment.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 || cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be in (0, 4096]")
	}
	if cfg.Witnesses <= 0 {
		return errors.New("witnesses must be > 0")
	}
	if cfg.MaxTxPerBlock <= 0 {
		return errors.New("max_tx_per_block must be > 0")
	}
	if cfg.BlockTime <= 0 {
		return errors.New("block_time must be > 0")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}

// ChainConfig projects the subset of Config that chain.NewState needs.
func (c Config) ChainConfig() *chain.Config {
	return &chain.Config{
		Witnesses:     c.Witnesses,
		MaxTxPerBlock: c.MaxTxPerBlock,
		WitnessReward: c.WitnessReward,
		BurnAccount:   c.BurnAccount,
		EcoBlocks:     c.EcoBlocks,
		TxExpiration:  c.TxExpirationTime.Milliseconds(),
	}
}
