// Package anchor ingests blocks from the anchor chain: it fetches anchor
// blocks in strictly ascending order, parses their sidechain-relevant
// payloads into transactions, and shields the rest of the node from
// upstream flakiness via retry, backoff, and a circuit breaker (§4.6).
package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"sidechain.dev/core/chain"
)

// Fetcher retrieves the raw anchor block at height n from a single upstream
// endpoint. Implementations live outside this package (RPC client, file
// replay for tests, ...).
type Fetcher interface {
	FetchBlock(ctx context.Context, n uint64) (*AnchorBlock, error)
}

// AnchorBlock is the parsed form of one anchor-chain block: its height and
// the sidechain-relevant operations it carries, already decoded into
// candidate transactions.
type AnchorBlock struct {
	Number uint64
	Txs    []chain.Transaction // Ref is set to "<n>:<opIndex>" by the parser
}

// Config holds the ingester's tunables from §6's configuration table.
type Config struct {
	MaxPrefetch             int
	SyncBatch               int
	MaxRetryDelay           time.Duration
	CircuitBreakerThreshold int
}

// Ingester implements §4.6: monotonic next-expected tracking, exactly-once
// process_block(n), a bounded LRU cache, retry+backoff with endpoint
// rotation, and a circuit breaker.
type Ingester struct {
	cfg       Config
	endpoints []Fetcher
	log       *zap.Logger

	mu                  sync.Mutex
	nextExpected        uint64
	cache               *lru.Cache[uint64, *AnchorBlock]
	consecutiveFailures int
	breakerOpenUntil    time.Time
	endpointIdx         int
}

// New builds an ingester starting from nextExpected = head.anchor_block_num + 1.
func New(cfg Config, endpoints []Fetcher, headAnchorBlockNum uint64, log *zap.Logger) (*Ingester, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("anchor: at least one endpoint is required")
	}
	if cfg.MaxPrefetch <= 0 {
		cfg.MaxPrefetch = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	cache, err := lru.New[uint64, *AnchorBlock](4 * cfg.MaxPrefetch)
	if err != nil {
		return nil, fmt.Errorf("anchor: cache init: %w", err)
	}
	return &Ingester{
		cfg:          cfg,
		endpoints:    endpoints,
		log:          log,
		nextExpected: headAnchorBlockNum + 1,
		cache:        cache,
	}, nil
}

// NextExpected returns the next anchor block number the ingester will serve.
func (ig *Ingester) NextExpected() uint64 {
	ig.mu.Lock()
	defer ig.mu.Unlock()
	return ig.nextExpected
}

// ProcessBlock returns the parsed transactions of anchor block n, fetching
// (with retry/backoff/circuit-breaking) if not already cached. n must equal
// the current next-expected block; any other value is rejected so the
// ingester can never be made to skip or rewind.
func (ig *Ingester) ProcessBlock(ctx context.Context, n uint64) ([]chain.Transaction, error) {
	ig.mu.Lock()
	if n != ig.nextExpected {
		expected := ig.nextExpected
		ig.mu.Unlock()
		return nil, fmt.Errorf("anchor: out-of-order request for block %d, expected %d", n, expected)
	}
	if blk, ok := ig.cache.Get(n); ok {
		ig.nextExpected = n + 1
		ig.mu.Unlock()
		return blk.Txs, nil
	}
	ig.mu.Unlock()

	blk, err := ig.fetchWithRetry(ctx, n)
	if err != nil {
		return nil, err
	}

	ig.mu.Lock()
	ig.cache.Add(n, blk)
	ig.nextExpected = n + 1
	ig.mu.Unlock()
	return blk.Txs, nil
}

// fetchWithRetry performs the exponential-backoff retry + endpoint rotation
// + circuit breaker of §4.6. The breaker's open window blocks new attempts
// until it elapses, at which point a fetch is allowed through; success
// closes the breaker immediately, per spec.
func (ig *Ingester) fetchWithRetry(ctx context.Context, n uint64) (*AnchorBlock, error) {
	ig.mu.Lock()
	if until := ig.breakerOpenUntil; !until.IsZero() && time.Now().Before(until) {
		ig.mu.Unlock()
		return nil, fmt.Errorf("anchor: circuit breaker open until %s", until.Format(time.RFC3339))
	}
	ig.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // bounded by ctx instead; retry forever until cancelled
	if ig.cfg.MaxRetryDelay > 0 {
		bo.MaxInterval = ig.cfg.MaxRetryDelay
	}

	var result *AnchorBlock
	op := func() error {
		ig.mu.Lock()
		ep := ig.endpoints[ig.endpointIdx%len(ig.endpoints)]
		ig.mu.Unlock()

		blk, err := ep.FetchBlock(ctx, n)
		if err != nil {
			ig.mu.Lock()
			ig.consecutiveFailures++
			ig.endpointIdx++
			threshold := ig.cfg.CircuitBreakerThreshold
			if threshold > 0 && ig.consecutiveFailures >= threshold {
				delay := ig.cfg.MaxRetryDelay
				if delay <= 0 {
					delay = bo.MaxInterval
				}
				ig.breakerOpenUntil = time.Now().Add(delay)
				ig.log.Warn("anchor circuit breaker open",
					zap.Int("consecutive_failures", ig.consecutiveFailures),
					zap.Uint64("anchor_block", n))
			}
			ig.mu.Unlock()
			return err
		}
		result = blk
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("anchor: fetch block %d: %w", n, err)
	}

	ig.mu.Lock()
	ig.consecutiveFailures = 0
	ig.breakerOpenUntil = time.Time{}
	ig.mu.Unlock()
	return result, nil
}

// ValidateBlockAgainstAnchor checks §4.2 stage 6: every tx in b whose Ref
// points to b.AnchorBlockNum must appear, by content hash, in the anchor
// block's parsed set, with an exact count match.
func ValidateBlockAgainstAnchor(anchorTxs []chain.Transaction, blockTxs []chain.Transaction, anchorBlockNum uint64) error {
	expected := make(map[string]struct{}, len(anchorTxs))
	for _, tx := range anchorTxs {
		expected[tx.Hash] = struct{}{}
	}

	found := make(map[string]struct{}, len(expected))
	count := 0
	for _, tx := range blockTxs {
		if !refersToAnchor(tx.Ref, anchorBlockNum) {
			continue
		}
		count++
		if _, ok := expected[tx.Hash]; !ok {
			return fmt.Errorf("transactions not found on anchor")
		}
		found[tx.Hash] = struct{}{}
	}
	if count != len(expected) || len(found) != len(expected) {
		return fmt.Errorf("transactions not found on anchor")
	}
	return nil
}

func refersToAnchor(ref string, anchorBlockNum uint64) bool {
	prefix := fmt.Sprintf("%d:", anchorBlockNum)
	return len(ref) > len(prefix) && ref[:len(prefix)] == prefix
}

// PrefetchBatchSize returns how many blocks ahead the prefetcher should
// fetch, per §4.6: 1 in normal mode, sync_batch in sync mode.
func (ig *Ingester) PrefetchBatchSize(syncMode bool) int {
	if syncMode && ig.cfg.SyncBatch > 0 {
		return ig.cfg.SyncBatch
	}
	return 1
}
