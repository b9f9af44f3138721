package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentscan/registry-indexer/internal/db"
	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/migrations"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = uint64(11155111)

func testHandler(t *testing.T) (*Handler, *store.Store, *stats.Tracker) {
	t.Helper()

	database, err := db.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	database.SetMaxOpenConns(1)
	t.Cleanup(func() { database.Close() })

	log := logger.NewNopLogger()
	require.NoError(t, migrations.RunMigrationsDB(log, database))

	st := store.New(database, log)
	require.NoError(t, st.UpsertChain(context.Background(), testChainID, "sepolia", "http://rpc", true,
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333"))

	tracker := stats.New()

	return NewHandler(st, tracker, log), st, tracker
}

func seedEvents(t *testing.T, st *store.Store) {
	t.Helper()

	batch := []events.Event{
		{
			ChainID:         testChainID,
			BlockNumber:     10,
			BlockTimestamp:  time.Unix(1700000000, 0).UTC(),
			TransactionHash: "0xaa01",
			LogIndex:        0,
			ContractAddress: "0x1111111111111111111111111111111111111111",
			Type:            events.TypeRegistered,
			Data:            events.RegisteredData{AgentID: "1", TokenURI: "uri", Owner: "0xaa"},
		},
		{
			ChainID:         testChainID,
			BlockNumber:     20,
			BlockTimestamp:  time.Unix(1700000600, 0).UTC(),
			TransactionHash: "0xaa02",
			LogIndex:        1,
			ContractAddress: "0x2222222222222222222222222222222222222222",
			Type:            events.TypeNewFeedback,
			Data: events.NewFeedbackData{
				AgentID: "2", Client: "0xbb", Score: 90,
				Tag1: "0x01", Tag2: "0x02", FeedbackURI: "ipfs://f",
			},
		},
	}

	_, err := st.StoreEventsBatch(context.Background(), testChainID, batch, 20)
	require.NoError(t, err)
}

func TestHandler_GetEvents(t *testing.T) {
	handler, st, _ := testHandler(t)
	seedEvents(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?chain_id=11155111", nil)
	rec := httptest.NewRecorder()
	handler.GetEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	// Descending block order
	assert.Equal(t, uint64(20), resp.Events[0].BlockNumber)
}

func TestHandler_GetEvents_FilterByType(t *testing.T) {
	handler, st, _ := testHandler(t)
	seedEvents(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?event_type=NewFeedback", nil)
	rec := httptest.NewRecorder()
	handler.GetEvents(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, events.TypeNewFeedback, resp.Events[0].Type)
}

func TestHandler_GetEvents_InvalidParams(t *testing.T) {
	handler, _, _ := testHandler(t)

	tests := []string{
		"/api/v1/events?chain_id=abc",
		"/api/v1/events?event_type=Transfer",
		"/api/v1/events?blocks=-1",
		"/api/v1/events?hours=abc",
		"/api/v1/events?limit=x",
	}

	for _, target := range tests {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		handler.GetEvents(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandler_GetEventStats(t *testing.T) {
	handler, st, _ := testHandler(t)
	seedEvents(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stats?chain_id=11155111", nil)
	rec := httptest.NewRecorder()
	handler.GetEventStats(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testChainID, resp.ChainID)
	assert.Equal(t, uint64(1), resp.EventCounts["Registered"])
	assert.Equal(t, uint64(1), resp.EventCounts["NewFeedback"])
	assert.Equal(t, uint64(2), resp.TotalEvents)
}

func TestHandler_GetEventStats_MissingChainID(t *testing.T) {
	handler, _, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stats", nil)
	rec := httptest.NewRecorder()
	handler.GetEventStats(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Health(t *testing.T) {
	handler, st, tracker := testHandler(t)
	seedEvents(t, st)

	require.NoError(t, st.SetChainStatus(context.Background(), testChainID, events.StatusActive, ""))
	tracker.UpdateHead(testChainID, 25)
	tracker.RecordPoll(testChainID)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Chains, 1)
	assert.Equal(t, "active", resp.Chains[0].Status)
	assert.Equal(t, uint64(25), resp.Chains[0].CurrentHead)
	assert.Equal(t, uint64(20), resp.Chains[0].LastSyncedBlock)
}

func TestHandler_Health_Degraded(t *testing.T) {
	handler, st, _ := testHandler(t)

	require.NoError(t, st.SetChainStatus(context.Background(), testChainID, events.StatusFailed, "providers down"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.Health(rec, req)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.Len(t, resp.Chains, 1)
	assert.Equal(t, "providers down", resp.Chains[0].ErrorMessage)
}

func TestHandler_GetChains(t *testing.T) {
	handler, st, _ := testHandler(t)

	require.NoError(t, st.SetChainStatus(context.Background(), testChainID, events.StatusSyncing, ""))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil)
	rec := httptest.NewRecorder()
	handler.GetChains(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChainsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Chains, 1)
	assert.Equal(t, testChainID, resp.Chains[0].ChainID)
}
