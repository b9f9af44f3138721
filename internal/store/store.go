// Package store persists registry events and per-chain sync bookkeeping.
// Every batch write is a single transaction: the events and the cursor
// advance commit together or not at all, so a crash mid-batch re-fetches the
// same range and the (chain_id, transaction_hash, log_index) uniqueness
// absorbs the duplicates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/metrics"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/russross/meddler"
)

// Store wraps the indexer database. It is safe for concurrent use by
// multiple chain loops; each loop holds at most one transaction at a time.
type Store struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// New creates a Store over an open database.
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{
		db:  db,
		log: log.WithComponent("store"),
		now: time.Now,
	}
}

// SetNowFunc replaces the store's clock. Intended for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying connection for read-only consumers.
func (s *Store) DB() *sql.DB {
	return s.db
}

// eventRow is the database representation of an event.
type eventRow struct {
	ID              int64  `meddler:"id,pk"`
	ChainID         uint64 `meddler:"chain_id"`
	BlockNumber     uint64 `meddler:"block_number"`
	BlockTimestamp  int64  `meddler:"block_timestamp"`
	TransactionHash string `meddler:"transaction_hash"`
	LogIndex        uint32 `meddler:"log_index"`
	ContractAddress string `meddler:"contract_address"`
	EventType       string `meddler:"event_type"`
	EventData       string `meddler:"event_data"`
	CreatedAt       int64  `meddler:"created_at"`
}

func (r *eventRow) toEvent() (events.Event, error) {
	payload, err := events.UnmarshalPayload(events.Type(r.EventType), []byte(r.EventData))
	if err != nil {
		return events.Event{}, err
	}

	return events.Event{
		ID:              r.ID,
		ChainID:         r.ChainID,
		BlockNumber:     r.BlockNumber,
		BlockTimestamp:  time.Unix(r.BlockTimestamp, 0).UTC(),
		TransactionHash: r.TransactionHash,
		LogIndex:        r.LogIndex,
		ContractAddress: r.ContractAddress,
		Type:            events.Type(r.EventType),
		Data:            payload,
		CreatedAt:       time.Unix(r.CreatedAt, 0).UTC(),
	}, nil
}

// syncStateRow is the database representation of chain_sync_state.
type syncStateRow struct {
	ChainID            uint64         `meddler:"chain_id,pk"`
	LastSyncedBlock    uint64         `meddler:"last_synced_block"`
	LastSyncTime       int64          `meddler:"last_sync_time"`
	Status             string         `meddler:"status"`
	ErrorMessage       sql.NullString `meddler:"error_message"`
	TotalEventsIndexed uint64         `meddler:"total_events_indexed"`
	ErrorsLastHour     uint32         `meddler:"errors_last_hour"`
	CreatedAt          int64          `meddler:"created_at"`
	UpdatedAt          int64          `meddler:"updated_at"`
}

func (r *syncStateRow) toState() events.ChainSyncState {
	state := events.ChainSyncState{
		ChainID:            r.ChainID,
		LastSyncedBlock:    r.LastSyncedBlock,
		Status:             events.ChainStatus(r.Status),
		TotalEventsIndexed: r.TotalEventsIndexed,
		ErrorsLastHour:     r.ErrorsLastHour,
	}
	if r.LastSyncTime > 0 {
		state.LastSyncTime = time.Unix(r.LastSyncTime, 0).UTC()
	}
	if r.ErrorMessage.Valid {
		state.ErrorMessage = r.ErrorMessage.String
	}
	return state
}

// BatchResult reports the outcome of one StoreEventsBatch call.
type BatchResult struct {
	// Inserted holds the newly stored events in the order the batch gave
	// them, ready for broadcast. Duplicates are excluded.
	Inserted []events.Event

	// Duplicates is the number of events skipped by the uniqueness
	// constraint.
	Duplicates int
}

// UpsertChain reconciles a chain's static configuration row at boot.
func (s *Store) UpsertChain(
	ctx context.Context,
	chainID uint64,
	name, rpcURL string,
	enabled bool,
	identity, reputation, validation string,
) error {
	start := s.now()
	defer func() { metrics.DBQueryDuration("upsert_chain", s.now().Sub(start)) }()
	metrics.DBQueryInc("upsert_chain")

	now := s.now().Unix()
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chains (
			chain_id, name, rpc_url, enabled,
			identity_registry, reputation_registry, validation_registry,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chain_id) DO UPDATE SET
			name = excluded.name,
			rpc_url = excluded.rpc_url,
			enabled = excluded.enabled,
			identity_registry = excluded.identity_registry,
			reputation_registry = excluded.reputation_registry,
			validation_registry = excluded.validation_registry,
			updated_at = excluded.updated_at
	`, chainID, name, rpcURL, enabledInt, identity, reputation, validation, now, now)
	if err != nil {
		metrics.DBErrorsInc("upsert_chain")
		return fmt.Errorf("failed to upsert chain %d: %w", chainID, err)
	}

	return nil
}

// GetLastSyncedBlock returns the durable cursor for a chain. exists is false
// when the chain has never committed a batch; a row created by a status
// write alone does not count as a cursor.
func (s *Store) GetLastSyncedBlock(ctx context.Context, chainID uint64) (block uint64, exists bool, err error) {
	metrics.DBQueryInc("get_last_synced_block")

	err = s.db.QueryRowContext(ctx, `
		SELECT last_synced_block FROM chain_sync_state WHERE chain_id = ? AND last_sync_time > 0
	`, chainID).Scan(&block)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		metrics.DBErrorsInc("get_last_synced_block")
		return 0, false, fmt.Errorf("failed to get last synced block for chain %d: %w", chainID, err)
	}

	return block, true, nil
}

// StoreEventsBatch atomically inserts a batch of events and advances the
// chain's cursor to targetBlock. Duplicate events are skipped and counted;
// the advance still happens. Empty batches advance the cursor alone, which
// keeps sparsely used contracts from livelocking. A targetBlock below the
// current cursor fails with ErrCursorRegression.
func (s *Store) StoreEventsBatch(
	ctx context.Context,
	chainID uint64,
	batch []events.Event,
	targetBlock uint64,
) (BatchResult, error) {
	start := s.now()
	defer func() { metrics.DBQueryDuration("store_events_batch", s.now().Sub(start)) }()
	metrics.DBQueryInc("store_events_batch")

	var result BatchResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBErrorsInc("store_events_batch")
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	now := s.now().Unix()

	// Ensure the sync state row exists before touching the cursor.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chain_sync_state (chain_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, chainID, string(events.StatusSyncing), now, now); err != nil {
		metrics.DBErrorsInc("store_events_batch")
		return result, fmt.Errorf("failed to ensure sync state for chain %d: %w", chainID, err)
	}

	var current uint64
	if err := tx.QueryRowContext(ctx, `
		SELECT last_synced_block FROM chain_sync_state WHERE chain_id = ?
	`, chainID).Scan(&current); err != nil {
		metrics.DBErrorsInc("store_events_batch")
		return result, fmt.Errorf("failed to read cursor for chain %d: %w", chainID, err)
	}

	if targetBlock < current {
		return result, fmt.Errorf("%w: chain %d, current %d, target %d",
			ErrCursorRegression, chainID, current, targetBlock)
	}

	for _, event := range batch {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return result, fmt.Errorf("failed to marshal %s payload: %w", event.Type, err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO events (
				chain_id, block_number, block_timestamp, transaction_hash,
				log_index, contract_address, event_type, event_data, created_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			chainID,
			event.BlockNumber,
			event.BlockTimestamp.Unix(),
			event.TransactionHash,
			event.LogIndex,
			event.ContractAddress,
			string(event.Type),
			string(data),
			now,
		)
		if err != nil {
			metrics.DBErrorsInc("store_events_batch")
			return result, fmt.Errorf("failed to insert event %s/%d: %w",
				event.TransactionHash, event.LogIndex, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("failed to read rows affected: %w", err)
		}

		if affected == 0 {
			result.Duplicates++
			continue
		}

		stored := event
		stored.CreatedAt = time.Unix(now, 0).UTC()
		result.Inserted = append(result.Inserted, stored)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chain_sync_state
		SET last_synced_block = ?,
		    last_sync_time = ?,
		    total_events_indexed = total_events_indexed + ?,
		    updated_at = ?
		WHERE chain_id = ?
	`, targetBlock, now, len(result.Inserted), now, chainID); err != nil {
		metrics.DBErrorsInc("store_events_batch")
		return result, fmt.Errorf("failed to advance cursor for chain %d: %w", chainID, err)
	}

	if err := tx.Commit(); err != nil {
		metrics.DBErrorsInc("store_events_batch")
		return BatchResult{}, fmt.Errorf("failed to commit batch for chain %d: %w", chainID, err)
	}

	if result.Duplicates > 0 {
		metrics.DuplicateEvents.WithLabelValues(fmt.Sprintf("%d", chainID)).Add(float64(result.Duplicates))
	}

	return result, nil
}

// SetChainStatus records a chain's lifecycle status. Idempotent.
func (s *Store) SetChainStatus(
	ctx context.Context,
	chainID uint64,
	status events.ChainStatus,
	errorMessage string,
) error {
	metrics.DBQueryInc("set_chain_status")

	now := s.now().Unix()

	var errMsg interface{}
	if errorMessage != "" {
		errMsg = errorMessage
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_sync_state (chain_id, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chain_id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, chainID, string(status), errMsg, now, now)
	if err != nil {
		metrics.DBErrorsInc("set_chain_status")
		return fmt.Errorf("failed to set status for chain %d: %w", chainID, err)
	}

	return nil
}

// IncrementErrorCount bumps the alerting error counter for a chain.
func (s *Store) IncrementErrorCount(ctx context.Context, chainID uint64) error {
	metrics.DBQueryInc("increment_error_count")

	_, err := s.db.ExecContext(ctx, `
		UPDATE chain_sync_state
		SET errors_last_hour = errors_last_hour + 1, updated_at = ?
		WHERE chain_id = ?
	`, s.now().Unix(), chainID)
	if err != nil {
		metrics.DBErrorsInc("increment_error_count")
		return fmt.Errorf("failed to increment error count for chain %d: %w", chainID, err)
	}

	return nil
}

// DecayErrorCounts zeroes every chain's error counter. Called hourly; the
// counter is an alerting signal, not an exact sliding window.
func (s *Store) DecayErrorCounts(ctx context.Context) error {
	metrics.DBQueryInc("decay_error_counts")

	_, err := s.db.ExecContext(ctx, `
		UPDATE chain_sync_state SET errors_last_hour = 0, updated_at = ?
		WHERE errors_last_hour > 0
	`, s.now().Unix())
	if err != nil {
		metrics.DBErrorsInc("decay_error_counts")
		return fmt.Errorf("failed to decay error counts: %w", err)
	}

	return nil
}

// GetChainSyncState returns the sync state row for one chain.
func (s *Store) GetChainSyncState(ctx context.Context, chainID uint64) (*events.ChainSyncState, error) {
	metrics.DBQueryInc("get_chain_sync_state")

	var row syncStateRow
	err := meddler.QueryRow(s.db, &row, `SELECT * FROM chain_sync_state WHERE chain_id = ?`, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.DBErrorsInc("get_chain_sync_state")
		return nil, fmt.Errorf("failed to get sync state for chain %d: %w", chainID, err)
	}

	state := row.toState()
	return &state, nil
}

// GetEnabledChains returns the sync state of every enabled chain.
func (s *Store) GetEnabledChains(ctx context.Context) ([]events.ChainSyncState, error) {
	metrics.DBQueryInc("get_enabled_chains")

	var rows []*syncStateRow
	err := meddler.QueryAll(s.db, &rows, `
		SELECT s.* FROM chain_sync_state s
		JOIN chains c ON c.chain_id = s.chain_id
		WHERE c.enabled = 1
		ORDER BY s.chain_id
	`)
	if err != nil {
		metrics.DBErrorsInc("get_enabled_chains")
		return nil, fmt.Errorf("failed to get enabled chains: %w", err)
	}

	states := make([]events.ChainSyncState, 0, len(rows))
	for _, row := range rows {
		states = append(states, row.toState())
	}

	return states, nil
}

// CountEventsByType returns per-type event counts for a chain.
func (s *Store) CountEventsByType(ctx context.Context, chainID uint64) (map[events.Type]uint64, error) {
	metrics.DBQueryInc("count_events_by_type")

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM events WHERE chain_id = ? GROUP BY event_type
	`, chainID)
	if err != nil {
		metrics.DBErrorsInc("count_events_by_type")
		return nil, fmt.Errorf("failed to count events for chain %d: %w", chainID, err)
	}
	defer rows.Close()

	counts := make(map[events.Type]uint64)
	for rows.Next() {
		var (
			eventType string
			count     uint64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[events.Type(eventType)] = count
	}

	return counts, rows.Err()
}

// EventQuery filters QueryEvents results. Zero values mean "no filter".
type EventQuery struct {
	// ChainID restricts results to one chain
	ChainID *uint64

	// EventType restricts results to one event type
	EventType events.Type

	// Contract restricts results to one emitting contract (lower-case hex)
	Contract string

	// AgentID restricts results to one agent
	AgentID string

	// Blocks restricts results to the last N blocks of the chain
	Blocks uint64

	// Since restricts results to events at or after this time
	Since time.Time

	// Limit caps the number of rows returned (default 100, max 1000)
	Limit int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// QueryEvents returns events matching the query in descending
// (block_number, log_index) order. Read path for API consumers.
func (s *Store) QueryEvents(ctx context.Context, q EventQuery) ([]events.Event, error) {
	start := s.now()
	defer func() { metrics.DBQueryDuration("query_events", s.now().Sub(start)) }()
	metrics.DBQueryInc("query_events")

	query := `SELECT * FROM events`
	var (
		conditions []string
		args       []interface{}
	)

	if q.ChainID != nil {
		conditions = append(conditions, "chain_id = ?")
		args = append(args, *q.ChainID)

		if q.Blocks > 0 {
			conditions = append(conditions, `
				block_number >= (
					SELECT COALESCE(MAX(block_number), 0) FROM events WHERE chain_id = ?
				) - ?`)
			args = append(args, *q.ChainID, q.Blocks)
		}
	}

	if q.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(q.EventType))
	}

	if q.Contract != "" {
		conditions = append(conditions, "contract_address = ?")
		args = append(args, q.Contract)
	}

	if q.AgentID != "" {
		conditions = append(conditions, "json_extract(event_data, '$.agent_id') = ?")
		args = append(args, q.AgentID)
	}

	if !q.Since.IsZero() {
		conditions = append(conditions, "block_timestamp >= ?")
		args = append(args, q.Since.Unix())
	}

	if len(conditions) > 0 {
		query += " WHERE " + joinConditions(conditions)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	query += " ORDER BY block_number DESC, log_index DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.DBErrorsInc("query_events")
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var eventRows []*eventRow
	if err := meddler.ScanAll(rows, &eventRows); err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}

	out := make([]events.Event, 0, len(eventRows))
	for _, row := range eventRows {
		event, err := row.toEvent()
		if err != nil {
			s.log.Warnf("skipping undecodable event row %d: %v", row.ID, err)
			continue
		}
		out = append(out, event)
	}

	return out, nil
}

func joinConditions(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
