// Command sidechain-node runs the replicated sidechain core as a standalone
// process: it wires node.New's subsystems together, optionally bootstraps a
// fresh devnet genesis, and drives the production/validation loop off a
// ticker. Peer transport (block gossip, sync-status broadcast) is out of
// scope for this module (§1); AcceptRemote exists for a transport layer to
// call into, but this binary only ever drives TryProduce against its own
// anchor-chain view.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sidechain.dev/core/anchor"
	"sidechain.dev/core/chain"
	"sidechain.dev/core/node"
)

var nowUnixMilli = func() int64 { return time.Now().UnixMilli() }

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	cfg := defaults
	var peers multiStringFlag
	var anchorEndpoints multiStringFlag

	fs := flag.NewFlagSet("sidechain-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	peerCSV := fs.String("peers", "", "bootstrap peers, comma-separated host:port")
	fs.Var(&peers, "peer", "single bootstrap peer host:port (repeatable)")
	fs.Var(&anchorEndpoints, "anchor-endpoint", "anchor-chain RPC base URL (repeatable); at least one is required to produce or validate blocks")
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	fs.IntVar(&cfg.Witnesses, "witnesses", defaults.Witnesses, "active witness count")

	witnessName := fs.String("witness-name", "", "local witness account name; empty means observer-only (never produces)")
	witnessKeystore := fs.String("witness-keystore", "", "path to a witness keystore file (see sidechain-cli keystore-export)")
	witnessKEKHex := fs.String("witness-kek-hex", "", "hex-encoded key-encryption-key to unwrap -witness-keystore")
	witnessKEKPassphrase := fs.String("witness-kek-passphrase", "", "key-encryption-key to unwrap -witness-keystore, derived via Argon2id from this passphrase and -witness-kek-salt-hex")
	witnessKEKSaltHex := fs.String("witness-kek-salt-hex", "", "salt for -witness-kek-passphrase, hex-encoded")

	genesisOriginHash := fs.String("genesis-origin-hash", "", "bootstrap a fresh chain with this genesis origin hash, if the data dir has no head yet")
	genesisMaster := fs.String("genesis-master", "", "witness name credited as the genesis block's producer")
	genesisAnchorBlock := fs.Uint64("genesis-anchor-block", 0, "anchor block number the genesis block starts mirroring from")

	produceBlocks := fs.Int("produce-blocks", 0, "produce up to N blocks locally, one per -block-time tick, then continue (devnet/testing)")
	produceExit := fs.Bool("produce-exit", false, "exit immediately once -produce-blocks completes")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Peers = node.NormalizePeers(append([]string{*peerCSV}, peers...)...)
	if err := node.Validate(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	identity := node.Identity{}
	if *witnessName != "" {
		priv, err := loadWitnessKey(*witnessKeystore, *witnessKEKHex, *witnessKEKPassphrase, *witnessKEKSaltHex)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "witness key load failed: %v\n", err)
			return 2
		}
		identity = node.Identity{Name: *witnessName, PrivateKey: priv}
	}

	endpoints := make([]anchor.Fetcher, 0, len(anchorEndpoints))
	for _, base := range anchorEndpoints {
		endpoints = append(endpoints, httpAnchorFetcher{baseURL: strings.TrimRight(base, "/"), client: &http.Client{Timeout: 10 * time.Second}})
	}

	provider, closeProvider, err := loadCryptoProvider(log)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "crypto provider init failed: %v\n", err)
		return 2
	}
	defer closeProvider()

	n, err := node.New(cfg, identity, provider, log, endpoints)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "node init failed: %v\n", err)
		return 2
	}
	defer func() { _ = n.Close() }()

	if *genesisOriginHash != "" {
		genesis := chain.NewGenesisBlock(*genesisOriginHash, *genesisAnchorBlock, *genesisMaster, nowUnixMilli())
		if n.Bootstrap(genesis) {
			log.Info("bootstrapped genesis", zap.Uint64("anchor_block", genesis.AnchorBlockNum))
		}
	}

	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if head := n.Head(); head != nil {
		_, _ = fmt.Fprintf(stdout, "chain: head_index=%d head_hash=%s anchor_block=%d\n", head.Index, head.Hash, head.AnchorBlockNum)
	} else {
		_, _ = fmt.Fprintln(stdout, "chain: no head (awaiting -genesis-origin-hash bootstrap)")
	}
	if *dryRun {
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *produceBlocks > 0 {
		produced := produceLoop(ctx, n, log, stdout, *produceBlocks, cfg.BlockTime)
		if *produceExit {
			return 0
		}
		_, _ = fmt.Fprintf(stdout, "produced %d block(s) locally\n", produced)
	}

	_, _ = fmt.Fprintln(stdout, "sidechain-node running")
	runProductionLoop(ctx, n, log, cfg.BlockTime)
	_, _ = fmt.Fprintln(stdout, "sidechain-node stopped")
	return 0
}

// produceLoop drives up to n TryProduce attempts, one per tick, for local
// devnet bring-up and scripted testing (the teacher's -mine-blocks
// equivalent).
func produceLoop(ctx context.Context, n *node.Node, log *zap.Logger, stdout io.Writer, count int, blockTime time.Duration) int {
	produced := 0
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()
	for produced < count {
		select {
		case <-ctx.Done():
			return produced
		case <-ticker.C:
			block, err := n.TryProduce(ctx, nowUnixMilli())
			if err != nil {
				log.Warn("produce failed", zap.Error(err))
				continue
			}
			if block == nil {
				continue
			}
			produced++
			_, _ = fmt.Fprintf(stdout, "produced: index=%d hash=%s tx_count=%d\n", block.Index, block.Hash, len(block.Txs))
		}
	}
	return produced
}

// runProductionLoop attempts a block on every tick until ctx is cancelled.
func runProductionLoop(ctx context.Context, n *node.Node, log *zap.Logger, blockTime time.Duration) {
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block, err := n.TryProduce(ctx, nowUnixMilli())
			if err != nil {
				log.Warn("produce failed", zap.Error(err))
				continue
			}
			if block != nil {
				log.Info("produced block",
					zap.Uint64("index", block.Index),
					zap.String("hash", block.Hash),
					zap.Int("tx_count", len(block.Txs)))
			}
		}
	}
}

func loadWitnessKey(keystorePath, kekHex, kekPassphrase, kekSaltHex string) ([]byte, error) {
	if keystorePath == "" || (kekHex == "" && kekPassphrase == "") {
		return nil, fmt.Errorf("-witness-keystore and either -witness-kek-hex or -witness-kek-passphrase are required with -witness-name")
	}
	ks, err := node.ReadKeystore(keystorePath)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var kek []byte
	if kekHex != "" {
		kek, err = hex.DecodeString(kekHex)
		if err != nil {
			return nil, fmt.Errorf("decode -witness-kek-hex: %w", err)
		}
	} else {
		salt, err := hex.DecodeString(kekSaltHex)
		if err != nil {
			return nil, fmt.Errorf("decode -witness-kek-salt-hex: %w", err)
		}
		kek = node.DeriveKEK(kekPassphrase, salt)
	}
	priv, err := node.UnwrapKey(ks, kek)
	if err != nil {
		return nil, fmt.Errorf("unwrap witness key: %w", err)
	}
	return priv, nil
}

// httpAnchorFetcher is the one concrete anchor.Fetcher this binary ships:
// a plain JSON-over-HTTP GET against an operator-run anchor-chain RPC
// gateway. The anchor chain's actual wire format is host-specific and out
// of this module's scope (§1); this client assumes the gateway echoes
// anchor.AnchorBlock's own field names, which any reverse-proxying
// adapter in front of the real anchor chain can produce.
type httpAnchorFetcher struct {
	baseURL string
	client  *http.Client
}

func (f httpAnchorFetcher) FetchBlock(ctx context.Context, n uint64) (*anchor.AnchorBlock, error) {
	url := fmt.Sprintf("%s/anchor/%d", f.baseURL, n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anchor endpoint %s: status %d", url, resp.StatusCode)
	}
	var blk anchor.AnchorBlock
	if err := json.NewDecoder(resp.Body).Decode(&blk); err != nil {
		return nil, fmt.Errorf("decode anchor block %d: %w", n, err)
	}
	return &blk, nil
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
