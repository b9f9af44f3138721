// Package indexer runs the per-chain polling loop: resolve the cursor, poll
// the head, fetch logs over a lag-sized window, decode, persist, broadcast,
// and adapt the pace to how far behind the chain is.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/agentscan/registry-indexer/internal/bus"
	"github.com/agentscan/registry-indexer/internal/decoder"
	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/metrics"
	"github.com/agentscan/registry-indexer/internal/provider"
	"github.com/agentscan/registry-indexer/internal/rpc"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/pkg/config"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// nearHeadLag is the lag at or below which blocks are fetched one at a time
	nearHeadLag = 10

	// catchUpLag is the lag above which sleeping is skipped entirely
	catchUpLag = 100

	// minAdaptiveSleep floors the halved poll interval during moderate lag
	minAdaptiveSleep = 100 * time.Millisecond

	// storeRetries is how many times a transient store error is retried
	// within one iteration before surfacing to the supervisor
	storeRetries = 3

	// storeRetryDelay spaces the in-iteration store retries
	storeRetryDelay = 500 * time.Millisecond

	// windowScale multiplies batch_size into the catch-up window
	windowScale = 5
)

// Loop is the indexer for a single chain. It is the sole writer of that
// chain's sync state and event rows.
type Loop struct {
	cfg    config.ChainConfig
	global config.GlobalConfig

	pool    *provider.Pool
	store   *store.Store
	decoder *decoder.Decoder
	bus     *bus.Bus
	stats   *stats.Tracker
	log     *logger.Logger

	// onProgress is invoked after every committed iteration. The supervisor
	// uses it to reset its retry budget.
	onProgress func()

	status events.ChainStatus
}

// New creates the indexer loop for one chain.
func New(
	cfg config.ChainConfig,
	global config.GlobalConfig,
	pool *provider.Pool,
	st *store.Store,
	dec *decoder.Decoder,
	eventBus *bus.Bus,
	tracker *stats.Tracker,
	log *logger.Logger,
) (*Loop, error) {
	if pool == nil {
		return nil, errors.New("provider pool is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if dec == nil {
		return nil, errors.New("decoder is required")
	}
	if eventBus == nil {
		return nil, errors.New("event bus is required")
	}
	if tracker == nil {
		return nil, errors.New("stats tracker is required")
	}

	return &Loop{
		cfg:     cfg,
		global:  global,
		pool:    pool,
		store:   st,
		decoder: dec,
		bus:     eventBus,
		stats:   tracker,
		log:     log.WithComponent("indexer").WithChain(cfg.Name),
	}, nil
}

// SetProgressFunc registers the per-iteration progress callback.
func (l *Loop) SetProgressFunc(fn func()) {
	l.onProgress = fn
}

// Run executes the polling loop until the context is cancelled or an
// unrecoverable error occurs. Decode failures and duplicate inserts are
// absorbed; provider exhaustion and store failures bubble up to the
// supervisor.
func (l *Loop) Run(ctx context.Context) error {
	cursor, err := l.resolveCursor(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve start cursor: %w", err)
	}

	l.log.Infow("indexer started",
		"chain_id", l.cfg.ChainID,
		"cursor", cursor,
		"identity_registry", l.cfg.Contracts.IdentityRegistry,
		"reputation_registry", l.cfg.Contracts.ReputationRegistry,
		"validation_registry", l.cfg.Contracts.ValidationRegistry,
	)

	pollInterval := time.Duration(l.cfg.PollIntervalMS) * time.Millisecond

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.stats.RecordPoll(l.cfg.ChainID)
		metrics.Polls.WithLabelValues(l.cfg.Name).Inc()

		head, err := provider.Call(ctx, l.pool, func(ctx context.Context, client rpc.EthClient) (uint64, error) {
			return client.BlockNumber(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to get chain head: %w", err)
		}

		l.stats.UpdateHead(l.cfg.ChainID, head)
		metrics.ChainHead.WithLabelValues(l.cfg.Name).Set(float64(head))

		// head <= cursor also covers a reorg-shortened chain: idle, never regress.
		if head <= cursor {
			metrics.ChainLag.WithLabelValues(l.cfg.Name).Set(0)
			l.setStatus(ctx, events.StatusActive)
			if err := sleepCtx(ctx, pollInterval); err != nil {
				return err
			}
			continue
		}

		lag := head - cursor
		metrics.ChainLag.WithLabelValues(l.cfg.Name).Set(float64(lag))

		if lag > nearHeadLag {
			l.setStatus(ctx, events.StatusCatchingUp)
		} else {
			l.setStatus(ctx, events.StatusActive)
		}

		window := l.windowSize(lag)
		from, to := cursor+1, cursor+window

		batch, err := l.fetchAndDecode(ctx, from, to)
		if err != nil {
			return err
		}

		result, err := l.storeWithRetry(ctx, batch, to)
		if err != nil {
			return err
		}

		// Publish only after the commit so subscribers never see an event
		// that is not yet durable.
		for _, event := range result.Inserted {
			l.bus.Publish(event)
			metrics.EventsIndexed.WithLabelValues(l.cfg.Name, string(event.Type)).Inc()
		}

		cursor = to
		l.stats.RecordSync(l.cfg.ChainID)
		metrics.LastSyncedBlock.WithLabelValues(l.cfg.Name).Set(float64(cursor))

		if len(result.Inserted) > 0 || result.Duplicates > 0 {
			l.log.Infow("batch committed",
				"from", from,
				"to", to,
				"inserted", len(result.Inserted),
				"duplicates", result.Duplicates,
				"lag", lag,
			)
		} else {
			l.log.Debugw("empty window advanced", "from", from, "to", to, "lag", lag)
		}

		if l.onProgress != nil {
			l.onProgress()
		}

		if err := sleepCtx(ctx, l.adaptiveInterval(pollInterval, lag)); err != nil {
			return err
		}
	}
}

// resolveCursor determines where indexing starts. A durable cursor wins and
// is replayed with a one-block overlap so a crash between fetch and commit
// never loses events; the duplicates are absorbed by the store. The
// configured starting_block only applies on the first ever run, where
// "latest" resolves to the current head.
func (l *Loop) resolveCursor(ctx context.Context) (uint64, error) {
	durable, exists, err := l.store.GetLastSyncedBlock(ctx, l.cfg.ChainID)
	if err != nil {
		return 0, err
	}

	startBlock, latest, err := l.cfg.StartingBlockNumber()
	if err != nil {
		return 0, err
	}

	if exists {
		cursor := durable
		if !latest && startBlock > cursor {
			cursor = startBlock
		}
		if cursor > 0 {
			cursor--
		}
		l.log.Infow("resuming with one-block overlap", "last_synced_block", durable, "cursor", cursor)
		return cursor, nil
	}

	if latest {
		head, err := provider.Call(ctx, l.pool, func(ctx context.Context, client rpc.EthClient) (uint64, error) {
			return client.BlockNumber(ctx)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to resolve \"latest\" starting block: %w", err)
		}
		l.log.Infow("starting from current head", "head", head)
		return head, nil
	}

	cursor := startBlock
	if cursor > 0 {
		cursor--
	}
	l.log.Infow("starting from configured block", "starting_block", startBlock)
	return cursor, nil
}

// windowSize picks the fetch window for the given lag: single blocks near
// the head, otherwise a batch bounded by configuration and the global cap.
func (l *Loop) windowSize(lag uint64) uint64 {
	if lag <= nearHeadLag {
		return 1
	}

	window := l.cfg.BatchSize * windowScale
	if lag < window {
		window = lag
	}
	if maxWindow := l.global.MaxParallelBlocks; window > maxWindow {
		window = maxWindow
	}
	if window == 0 {
		window = 1
	}

	return window
}

// adaptiveInterval shortens the sleep as lag grows: normal pace when caught
// up, double pace under moderate lag, and no sleep at all during aggressive
// catch-up. Disabled per chain or globally by configuration.
func (l *Loop) adaptiveInterval(base time.Duration, lag uint64) time.Duration {
	adaptive := l.cfg.AdaptivePolling
	if l.global.AdaptivePollingEnabled != nil && !*l.global.AdaptivePollingEnabled {
		adaptive = false
	}

	if !adaptive || lag <= nearHeadLag {
		return base
	}

	if lag > catchUpLag {
		return 0
	}

	half := base / 2
	if half < minAdaptiveSleep {
		half = minAdaptiveSleep
	}
	return half
}

// fetchAndDecode pulls the window's logs, decodes them, and joins in block
// timestamps. Undecodable logs are logged, counted, and skipped; they are
// never retried.
func (l *Loop) fetchAndDecode(ctx context.Context, from, to uint64) ([]events.Event, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: l.decoder.Addresses(l.cfg.ChainID),
	}

	logs, err := provider.Call(ctx, l.pool, func(ctx context.Context, client rpc.EthClient) ([]types.Log, error) {
		return client.GetLogs(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs %d-%d: %w", from, to, err)
	}

	decoded := make([]events.Event, 0, len(logs))
	blockSet := make(map[uint64]struct{})

	for _, raw := range logs {
		event, err := l.decoder.Decode(l.cfg.ChainID, raw)
		if err != nil {
			l.log.Warnw("failed to decode log, skipping",
				"tx_hash", raw.TxHash.Hex(),
				"log_index", raw.Index,
				"error", err,
			)
			if err := l.store.IncrementErrorCount(ctx, l.cfg.ChainID); err != nil {
				l.log.Warnf("failed to record decode error: %v", err)
			}
			continue
		}
		if event == nil {
			continue
		}

		decoded = append(decoded, *event)
		blockSet[event.BlockNumber] = struct{}{}
	}

	if len(decoded) == 0 {
		return nil, nil
	}

	timestamps, err := l.fetchBlockTimestamps(ctx, blockSet)
	if err != nil {
		return nil, err
	}

	for i := range decoded {
		decoded[i].BlockTimestamp = timestamps[decoded[i].BlockNumber]
	}

	// Logs arrive ordered from well-behaved endpoints, but the ordering
	// invariant is ours to keep.
	sort.SliceStable(decoded, func(i, j int) bool {
		if decoded[i].BlockNumber != decoded[j].BlockNumber {
			return decoded[i].BlockNumber < decoded[j].BlockNumber
		}
		return decoded[i].LogIndex < decoded[j].LogIndex
	})

	return decoded, nil
}

// fetchBlockTimestamps resolves the timestamp of every distinct block in the
// window with a single batched header call.
func (l *Loop) fetchBlockTimestamps(ctx context.Context, blockSet map[uint64]struct{}) (map[uint64]time.Time, error) {
	blockNums := make([]uint64, 0, len(blockSet))
	for b := range blockSet {
		blockNums = append(blockNums, b)
	}
	sort.Slice(blockNums, func(i, j int) bool { return blockNums[i] < blockNums[j] })

	headers, err := provider.Call(ctx, l.pool, func(ctx context.Context, client rpc.EthClient) ([]*types.Header, error) {
		return client.BatchGetBlockHeaders(ctx, blockNums)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block headers: %w", err)
	}

	timestamps := make(map[uint64]time.Time, len(blockNums))
	for i, header := range headers {
		if header == nil {
			return nil, fmt.Errorf("block %d not found", blockNums[i])
		}
		timestamps[header.Number.Uint64()] = time.Unix(int64(header.Time), 0).UTC()
	}

	return timestamps, nil
}

// storeWithRetry commits the batch, retrying transient store errors a
// bounded number of times within the iteration.
func (l *Loop) storeWithRetry(ctx context.Context, batch []events.Event, targetBlock uint64) (store.BatchResult, error) {
	var lastErr error

	for attempt := 1; attempt <= storeRetries; attempt++ {
		result, err := l.store.StoreEventsBatch(ctx, l.cfg.ChainID, batch, targetBlock)
		if err == nil {
			return result, nil
		}

		if !store.IsTransient(err) {
			return store.BatchResult{}, err
		}

		lastErr = err
		l.log.Warnw("transient store error, retrying",
			"attempt", attempt,
			"max_attempts", storeRetries,
			"error", err,
		)

		if attempt < storeRetries {
			if err := sleepCtx(ctx, storeRetryDelay); err != nil {
				return store.BatchResult{}, err
			}
		}
	}

	return store.BatchResult{}, fmt.Errorf("store failed after %d attempts: %w", storeRetries, lastErr)
}

// setStatus writes the chain status when it changes, mirroring it into the
// stats registry.
func (l *Loop) setStatus(ctx context.Context, status events.ChainStatus) {
	if l.status == status {
		return
	}
	l.status = status

	if err := l.store.SetChainStatus(ctx, l.cfg.ChainID, status, ""); err != nil {
		l.log.Warnf("failed to set chain status %s: %v", status, err)
		return
	}
	l.stats.SetStatus(l.cfg.ChainID, status)
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
