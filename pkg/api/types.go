package api

import (
	"time"

	"github.com/agentscan/registry-indexer/pkg/events"
)

// EventsResponse is the payload of GET /api/v1/events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Count  int            `json:"count"`
}

// StatsResponse is the payload of GET /api/v1/events/stats.
type StatsResponse struct {
	ChainID     uint64            `json:"chain_id"`
	EventCounts map[string]uint64 `json:"event_counts"`
	TotalEvents uint64            `json:"total_events"`
}

// ChainsResponse is the payload of GET /api/v1/chains.
type ChainsResponse struct {
	Chains []ChainHealth `json:"chains"`
}

// ChainHealth combines a chain's durable sync state with its in-process
// runtime stats.
type ChainHealth struct {
	ChainID            uint64    `json:"chain_id"`
	Status             string    `json:"status"`
	LastSyncedBlock    uint64    `json:"last_synced_block"`
	LastSyncTime       time.Time `json:"last_sync_time"`
	CurrentHead        uint64    `json:"current_head"`
	PollsPerMinute     float64   `json:"polls_per_minute"`
	TotalEventsIndexed uint64    `json:"total_events_indexed"`
	ErrorsLastHour     uint32    `json:"errors_last_hour"`
	ErrorMessage       string    `json:"error_message,omitempty"`
}

// HealthResponse is the payload of GET /health.
type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Chains    []ChainHealth `json:"chains"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// WSMessage is one WebSocket frame sent to a subscriber.
type WSMessage struct {
	// Type is "event" or "lagged"
	Type string `json:"type"`

	// Event is set for "event" messages
	Event *events.Event `json:"event,omitempty"`

	// Lagged is the number of missed messages, set for "lagged" messages
	Lagged uint64 `json:"lagged,omitempty"`
}
