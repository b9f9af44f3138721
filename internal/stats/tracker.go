// Package stats keeps in-process, per-chain rolling counters for health
// reporting. The durable source of truth stays in the store's
// chain_sync_state; this registry exists for fast reads.
package stats

import (
	"sync"
	"time"

	"github.com/agentscan/registry-indexer/pkg/events"
)

// window is the rolling interval the poll rate is derived from.
const window = time.Minute

// Tracker is a thread-safe registry of per-chain runtime statistics.
type Tracker struct {
	mu     sync.RWMutex
	chains map[uint64]*chainStats
	now    func() time.Time
}

type chainStats struct {
	pollTimes    []time.Time
	currentHead  uint64
	lastSyncTime time.Time
	status       events.ChainStatus
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		chains: make(map[uint64]*chainStats),
		now:    time.Now,
	}
}

// SetNowFunc replaces the tracker's clock. Intended for tests.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Tracker) chain(chainID uint64) *chainStats {
	cs, ok := t.chains[chainID]
	if !ok {
		cs = &chainStats{}
		t.chains[chainID] = cs
	}
	return cs
}

// RecordPoll registers one poll iteration for a chain.
func (t *Tracker) RecordPoll(chainID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cs := t.chain(chainID)
	cs.pollTimes = append(cs.pollTimes, now)

	// Trim entries that fell out of the window.
	cutoff := now.Add(-window)
	trimmed := cs.pollTimes[:0]
	for _, ts := range cs.pollTimes {
		if !ts.Before(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	cs.pollTimes = trimmed
}

// UpdateHead records the latest chain head seen by the indexer loop.
func (t *Tracker) UpdateHead(chainID uint64, head uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chain(chainID).currentHead = head
}

// RecordSync records the time of the last successful batch commit.
func (t *Tracker) RecordSync(chainID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chain(chainID).lastSyncTime = t.now()
}

// SetStatus mirrors the chain status written to the store.
func (t *Tracker) SetStatus(chainID uint64, status events.ChainStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chain(chainID).status = status
}

// Snapshot is a point-in-time view of one chain's runtime stats.
type Snapshot struct {
	ChainID      uint64             `json:"chain_id"`
	CurrentHead  uint64             `json:"current_head"`
	PollsPerMin  float64            `json:"polls_per_minute"`
	LastSyncTime time.Time          `json:"last_sync_time"`
	Status       events.ChainStatus `json:"status"`
}

// Snapshot returns the current stats of one chain.
func (t *Tracker) Snapshot(chainID uint64) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cs, ok := t.chains[chainID]
	if !ok {
		return Snapshot{ChainID: chainID}, false
	}

	return t.snapshotLocked(chainID, cs), true
}

// SnapshotAll returns the current stats of every tracked chain.
func (t *Tracker) SnapshotAll() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, 0, len(t.chains))
	for chainID, cs := range t.chains {
		out = append(out, t.snapshotLocked(chainID, cs))
	}

	return out
}

func (t *Tracker) snapshotLocked(chainID uint64, cs *chainStats) Snapshot {
	cutoff := t.now().Add(-window)
	polls := 0
	for _, ts := range cs.pollTimes {
		if !ts.Before(cutoff) {
			polls++
		}
	}

	return Snapshot{
		ChainID:      chainID,
		CurrentHead:  cs.currentHead,
		PollsPerMin:  float64(polls),
		LastSyncTime: cs.lastSyncTime,
		Status:       cs.status,
	}
}
