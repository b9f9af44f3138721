package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies one of the registry event kinds. The string values are
// persisted in the events table and exposed over the API, so they are stable.
type Type string

const (
	// IdentityRegistry events
	TypeRegistered  Type = "Registered"
	TypeMetadataSet Type = "MetadataSet"
	TypeUriUpdated  Type = "UriUpdated"

	// ReputationRegistry events
	TypeNewFeedback      Type = "NewFeedback"
	TypeFeedbackRevoked  Type = "FeedbackRevoked"
	TypeResponseAppended Type = "ResponseAppended"

	// ValidationRegistry events
	TypeValidationRequest  Type = "ValidationRequest"
	TypeValidationResponse Type = "ValidationResponse"
)

// AllTypes returns every known event type in declaration order.
func AllTypes() []Type {
	return []Type{
		TypeRegistered,
		TypeMetadataSet,
		TypeUriUpdated,
		TypeNewFeedback,
		TypeFeedbackRevoked,
		TypeResponseAppended,
		TypeValidationRequest,
		TypeValidationResponse,
	}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeRegistered, TypeMetadataSet, TypeUriUpdated,
		TypeNewFeedback, TypeFeedbackRevoked, TypeResponseAppended,
		TypeValidationRequest, TypeValidationResponse:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}

// Registry identifies which registry contract emitted an event.
type Registry string

const (
	RegistryIdentity   Registry = "identity"
	RegistryReputation Registry = "reputation"
	RegistryValidation Registry = "validation"
)

// Registry returns the registry contract an event type belongs to.
func (t Type) Registry() Registry {
	switch t {
	case TypeRegistered, TypeMetadataSet, TypeUriUpdated:
		return RegistryIdentity
	case TypeNewFeedback, TypeFeedbackRevoked, TypeResponseAppended:
		return RegistryReputation
	default:
		return RegistryValidation
	}
}

// Payload is the decoded, normalized data of one event. Exactly one concrete
// payload type exists per event Type. All addresses and 32-byte hashes are
// lower-case 0x hex; uint256 values are decimal strings.
type Payload interface {
	EventType() Type
}

// Event is a single decoded registry event. Events are append-only: once
// stored they are never mutated. (ChainID, TransactionHash, LogIndex) is
// globally unique.
type Event struct {
	ID              int64     `json:"id,omitempty"`
	ChainID         uint64    `json:"chain_id"`
	BlockNumber     uint64    `json:"block_number"`
	BlockTimestamp  time.Time `json:"block_timestamp"`
	TransactionHash string    `json:"transaction_hash"`
	LogIndex        uint32    `json:"log_index"`
	ContractAddress string    `json:"contract_address"`
	Type            Type      `json:"event_type"`
	Data            Payload   `json:"event_data"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// eventJSON mirrors Event with a raw payload so the wire shape can be
// decoded before the variant is known.
type eventJSON struct {
	ID              int64           `json:"id,omitempty"`
	ChainID         uint64          `json:"chain_id"`
	BlockNumber     uint64          `json:"block_number"`
	BlockTimestamp  time.Time       `json:"block_timestamp"`
	TransactionHash string          `json:"transaction_hash"`
	LogIndex        uint32          `json:"log_index"`
	ContractAddress string          `json:"contract_address"`
	Type            Type            `json:"event_type"`
	Data            json.RawMessage `json:"event_data"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
}

// UnmarshalJSON decodes an event, resolving the payload variant from the
// event_type tag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.ID = raw.ID
	e.ChainID = raw.ChainID
	e.BlockNumber = raw.BlockNumber
	e.BlockTimestamp = raw.BlockTimestamp
	e.TransactionHash = raw.TransactionHash
	e.LogIndex = raw.LogIndex
	e.ContractAddress = raw.ContractAddress
	e.Type = raw.Type
	e.CreatedAt = raw.CreatedAt
	e.Data = nil

	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		payload, err := UnmarshalPayload(raw.Type, raw.Data)
		if err != nil {
			return err
		}
		e.Data = payload
	}

	return nil
}

// IdentityRegistry payloads

type RegisteredData struct {
	AgentID  string `json:"agent_id"`
	TokenURI string `json:"token_uri"`
	Owner    string `json:"owner"`
}

func (RegisteredData) EventType() Type { return TypeRegistered }

type MetadataSetData struct {
	AgentID    string `json:"agent_id"`
	IndexedKey string `json:"indexed_key"`
	Key        string `json:"key"`
	Value      string `json:"value"` // hex encoded bytes
}

func (MetadataSetData) EventType() Type { return TypeMetadataSet }

type UriUpdatedData struct {
	AgentID   string `json:"agent_id"`
	NewURI    string `json:"new_uri"`
	UpdatedBy string `json:"updated_by"`
}

func (UriUpdatedData) EventType() Type { return TypeUriUpdated }

// ReputationRegistry payloads

type NewFeedbackData struct {
	AgentID      string `json:"agent_id"`
	Client       string `json:"client"`
	Score        uint8  `json:"score"`
	Tag1         string `json:"tag1"`
	Tag2         string `json:"tag2"`
	FeedbackURI  string `json:"feedback_uri"`
	FeedbackHash string `json:"feedback_hash"`
}

func (NewFeedbackData) EventType() Type { return TypeNewFeedback }

type FeedbackRevokedData struct {
	AgentID       string `json:"agent_id"`
	Client        string `json:"client"`
	FeedbackIndex string `json:"feedback_index"`
	Revoker       string `json:"revoker"`
}

func (FeedbackRevokedData) EventType() Type { return TypeFeedbackRevoked }

type ResponseAppendedData struct {
	AgentID       string `json:"agent_id"`
	Client        string `json:"client"`
	FeedbackIndex string `json:"feedback_index"`
	Responder     string `json:"responder"`
	ResponseURI   string `json:"response_uri"`
	ResponseHash  string `json:"response_hash"`
}

func (ResponseAppendedData) EventType() Type { return TypeResponseAppended }

// ValidationRegistry payloads

type ValidationRequestData struct {
	ValidatorAddress string `json:"validator_address"`
	AgentID          string `json:"agent_id"`
	RequestURI       string `json:"request_uri"`
	RequestHash      string `json:"request_hash"`
}

func (ValidationRequestData) EventType() Type { return TypeValidationRequest }

type ValidationResponseData struct {
	ValidatorAddress string `json:"validator_address"`
	AgentID          string `json:"agent_id"`
	RequestHash      string `json:"request_hash"`
	Response         uint8  `json:"response"`
	ResponseURI      string `json:"response_uri"`
	ResponseHash     string `json:"response_hash"`
	Tag              string `json:"tag"`
}

func (ValidationResponseData) EventType() Type { return TypeValidationResponse }

// UnmarshalPayload decodes raw JSON into the payload variant for the given
// event type. Used when reading events back from the store.
func UnmarshalPayload(t Type, data []byte) (Payload, error) {
	var (
		payload Payload
		err     error
	)

	switch t {
	case TypeRegistered:
		var p RegisteredData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeMetadataSet:
		var p MetadataSetData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeUriUpdated:
		var p UriUpdatedData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeNewFeedback:
		var p NewFeedbackData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeFeedbackRevoked:
		var p FeedbackRevokedData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeResponseAppended:
		var p ResponseAppendedData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeValidationRequest:
		var p ValidationRequestData
		err = json.Unmarshal(data, &p)
		payload = p
	case TypeValidationResponse:
		var p ValidationResponseData
		err = json.Unmarshal(data, &p)
		payload = p
	default:
		return nil, fmt.Errorf("unknown event type: %s", t)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", t, err)
	}

	return payload, nil
}

// ChainStatus is the lifecycle state of a chain's indexer, persisted in
// chain_sync_state and driven by that chain's supervisor and loop, except
// stalled, which the health monitor sets and clears.
type ChainStatus string

const (
	StatusActive     ChainStatus = "active"
	StatusSyncing    ChainStatus = "syncing"
	StatusCatchingUp ChainStatus = "catching_up"
	StatusStalled    ChainStatus = "stalled"
	StatusFailed     ChainStatus = "failed"
)

// ChainSyncState is the durable per-chain sync bookkeeping row.
type ChainSyncState struct {
	ChainID            uint64      `json:"chain_id"`
	LastSyncedBlock    uint64      `json:"last_synced_block"`
	LastSyncTime       time.Time   `json:"last_sync_time"`
	Status             ChainStatus `json:"status"`
	ErrorMessage       string      `json:"error_message,omitempty"`
	TotalEventsIndexed uint64      `json:"total_events_indexed"`
	ErrorsLastHour     uint32      `json:"errors_last_hour"`
}
