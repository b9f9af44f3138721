package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentscan/registry-indexer/internal/logger"
	"github.com/agentscan/registry-indexer/internal/stats"
	"github.com/agentscan/registry-indexer/internal/store"
	"github.com/agentscan/registry-indexer/pkg/events"
)

// Handler serves the read-only API over the store and stats registry.
type Handler struct {
	store *store.Store
	stats *stats.Tracker
	log   *logger.Logger
}

// NewHandler creates an API handler.
func NewHandler(st *store.Store, tracker *stats.Tracker, log *logger.Logger) *Handler {
	return &Handler{
		store: st,
		stats: tracker,
		log:   log,
	}
}

// GetEvents retrieves stored events.
// @Summary Query indexed events
// @Description Retrieve registry events with optional filtering by chain, type, contract, and recency
// @Tags Events
// @Produce json
// @Param chain_id query integer false "Filter by chain ID"
// @Param event_type query string false "Filter by event type"
// @Param contract query string false "Filter by emitting contract address"
// @Param agent_id query string false "Filter by agent ID"
// @Param blocks query integer false "Only events from the last N blocks"
// @Param hours query number false "Only events from the last N hours"
// @Param limit query integer false "Maximum number of events" default(100)
// @Success 200 {object} EventsResponse "Matching events"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /events [get]
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	query, err := parseEventQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.store.QueryEvents(r.Context(), query)
	if err != nil {
		h.log.Errorf("event query failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	respondJSON(w, http.StatusOK, EventsResponse{
		Events: result,
		Count:  len(result),
	})
}

// GetEventStats returns per-type event counts for a chain.
// @Summary Event counts by type
// @Description Get the number of indexed events per event type for one chain
// @Tags Events
// @Produce json
// @Param chain_id query integer true "Chain ID"
// @Success 200 {object} StatsResponse "Event counts"
// @Failure 400 {object} ErrorResponse "Invalid parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /events/stats [get]
func (h *Handler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(r.URL.Query().Get("chain_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "chain_id is required")
		return
	}

	counts, err := h.store.CountEventsByType(r.Context(), chainID)
	if err != nil {
		h.log.Errorf("event stats query failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to count events")
		return
	}

	response := StatsResponse{
		ChainID:     chainID,
		EventCounts: make(map[string]uint64, len(counts)),
	}
	for eventType, count := range counts {
		response.EventCounts[string(eventType)] = count
		response.TotalEvents += count
	}

	respondJSON(w, http.StatusOK, response)
}

// GetChains returns the sync state of every enabled chain.
// @Summary Chain sync states
// @Description Get the durable sync state and runtime stats of all enabled chains
// @Tags Chains
// @Produce json
// @Success 200 {object} ChainsResponse "Chain states"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /chains [get]
func (h *Handler) GetChains(w http.ResponseWriter, r *http.Request) {
	chains, err := h.chainHealth(r)
	if err != nil {
		h.log.Errorf("chain state query failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read chain states")
		return
	}

	respondJSON(w, http.StatusOK, ChainsResponse{Chains: chains})
}

// Health reports overall indexer health.
// @Summary Health check
// @Description Overall health plus per-chain status
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Healthy or degraded"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	chains, err := h.chainHealth(r)
	if err != nil {
		h.log.Errorf("health query failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read chain states")
		return
	}

	status := "healthy"
	for _, chain := range chains {
		if chain.Status == string(events.StatusFailed) || chain.Status == string(events.StatusStalled) {
			status = "degraded"
			break
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Chains:    chains,
	})
}

func (h *Handler) chainHealth(r *http.Request) ([]ChainHealth, error) {
	states, err := h.store.GetEnabledChains(r.Context())
	if err != nil {
		return nil, err
	}

	chains := make([]ChainHealth, 0, len(states))
	for _, state := range states {
		chain := ChainHealth{
			ChainID:            state.ChainID,
			Status:             string(state.Status),
			LastSyncedBlock:    state.LastSyncedBlock,
			LastSyncTime:       state.LastSyncTime,
			TotalEventsIndexed: state.TotalEventsIndexed,
			ErrorsLastHour:     state.ErrorsLastHour,
			ErrorMessage:       state.ErrorMessage,
		}

		if snapshot, ok := h.stats.Snapshot(state.ChainID); ok {
			chain.CurrentHead = snapshot.CurrentHead
			chain.PollsPerMinute = snapshot.PollsPerMin
		}

		chains = append(chains, chain)
	}

	return chains, nil
}

func parseEventQuery(r *http.Request) (store.EventQuery, error) {
	q := store.EventQuery{}
	params := r.URL.Query()

	if raw := params.Get("chain_id"); raw != "" {
		chainID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, errInvalidParam("chain_id")
		}
		q.ChainID = &chainID
	}

	if raw := params.Get("event_type"); raw != "" {
		eventType := events.Type(raw)
		if !eventType.Valid() {
			return q, errInvalidParam("event_type")
		}
		q.EventType = eventType
	}

	if raw := params.Get("contract"); raw != "" {
		q.Contract = strings.ToLower(raw)
	}

	q.AgentID = params.Get("agent_id")

	if raw := params.Get("blocks"); raw != "" {
		blocks, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, errInvalidParam("blocks")
		}
		q.Blocks = blocks
	}

	if raw := params.Get("hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours < 0 {
			return q, errInvalidParam("hours")
		}
		q.Since = time.Now().Add(-time.Duration(hours * float64(time.Hour)))
	}

	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, errInvalidParam("limit")
		}
		q.Limit = limit
	}

	return q, nil
}

type paramError string

func (e paramError) Error() string { return "invalid parameter: " + string(e) }

func errInvalidParam(name string) error { return paramError(name) }

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode first so a marshal failure can still change the status code.
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
