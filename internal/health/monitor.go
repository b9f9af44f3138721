// Package health watches the durable sync state for chains that have gone
// quiet. A chain that is lagging and has not committed a batch within the
// stall threshold is marked stalled; the monitor moves it back to active
// once a commit lands within the threshold again.
package health

import (
	"context"
	"time"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/pkg/events"
)

const (
	// checkInterval is how often chains are inspected for stalls
	checkInterval = 30 * time.Second

	// decayInterval is how often the per-chain error counters reset
	decayInterval = time.Hour
)

// Monitor periodically flags stalled chains and decays error counters.
type Monitor struct {
	store     *store.Store
	stats     *stats.Tracker
	threshold time.Duration
	log       *logger.Logger
}

// NewMonitor creates a health monitor with the given stall threshold.
func NewMonitor(st *store.Store, tracker *stats.Tracker, threshold time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		store:     st,
		stats:     tracker,
		threshold: threshold,
		log:       log.WithComponent("health"),
	}
}

// Run blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	checkTicker := time.NewTicker(checkInterval)
	defer checkTicker.Stop()

	decayTicker := time.NewTicker(decayInterval)
	defer decayTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-checkTicker.C:
			m.checkStalls(ctx)
		case <-decayTicker.C:
			if err := m.store.DecayErrorCounts(ctx); err != nil {
				m.log.Warnf("failed to decay error counts: %v", err)
			}
		}
	}
}

// checkStalls marks chains whose last sync is older than the threshold while
// they still have blocks to catch up on.
func (m *Monitor) checkStalls(ctx context.Context) {
	states, err := m.store.GetEnabledChains(ctx)
	if err != nil {
		m.log.Warnf("failed to read chain states: %v", err)
		return
	}

	now := time.Now()

	for _, state := range states {
		// A stalled chain that has synced since we flagged it gets its
		// status back.
		if state.Status == events.StatusStalled {
			if !state.LastSyncTime.IsZero() && now.Sub(state.LastSyncTime) <= m.threshold {
				m.log.Infow("chain recovered from stall", "chain_id", state.ChainID)
				if err := m.store.SetChainStatus(ctx, state.ChainID, events.StatusActive, ""); err != nil {
					m.log.Warnf("failed to clear stall for chain %d: %v", state.ChainID, err)
					continue
				}
				m.stats.SetStatus(state.ChainID, events.StatusActive)
			}
			continue
		}

		// Failed chains are the supervisor's problem; never-synced chains
		// have nothing to stall from.
		if state.Status == events.StatusFailed || state.LastSyncTime.IsZero() {
			continue
		}

		if now.Sub(state.LastSyncTime) <= m.threshold {
			continue
		}

		snapshot, ok := m.stats.Snapshot(state.ChainID)
		if !ok || snapshot.CurrentHead <= state.LastSyncedBlock {
			// Not lagging as far as we can tell; an idle chain is not stalled.
			continue
		}

		m.log.Warnw("chain stalled",
			"chain_id", state.ChainID,
			"last_sync_time", state.LastSyncTime,
			"last_synced_block", state.LastSyncedBlock,
			"head", snapshot.CurrentHead,
		)

		if err := m.store.SetChainStatus(ctx, state.ChainID, events.StatusStalled, ""); err != nil {
			m.log.Warnf("failed to mark chain %d stalled: %v", state.ChainID, err)
			continue
		}
		m.stats.SetStatus(state.ChainID, events.StatusStalled)
	}
}
