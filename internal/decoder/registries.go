package decoder

import (
	"fmt"
	"math/big"

	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Registry event signatures. topic0 is the keccak hash of the canonical form.
const (
	sigRegistered         = "Registered(uint256,string,address)"
	sigMetadataSet        = "MetadataSet(uint256,string,string,bytes)"
	sigUriUpdated         = "UriUpdated(uint256,string,address)"
	sigNewFeedback        = "NewFeedback(uint256,address,uint8,bytes32,bytes32,string,bytes32)"
	sigFeedbackRevoked    = "FeedbackRevoked(uint256,address,uint256,address)"
	sigResponseAppended   = "ResponseAppended(uint256,address,uint256,address,string,bytes32)"
	sigValidationRequest  = "ValidationRequest(address,uint256,string,bytes32)"
	sigValidationResponse = "ValidationResponse(address,uint256,bytes32,uint8,string,bytes32,bytes32)"
)

// abi argument types used by the registry events
var (
	typeUint256, _ = abi.NewType("uint256", "", nil)
	typeUint8, _   = abi.NewType("uint8", "", nil)
	typeAddress, _ = abi.NewType("address", "", nil)
	typeString, _  = abi.NewType("string", "", nil)
	typeBytes, _   = abi.NewType("bytes", "", nil)
	typeBytes32, _ = abi.NewType("bytes32", "", nil)
)

// schema describes how one event type is decoded from a raw log.
type schema struct {
	eventType events.Type
	registry  events.Registry

	// indexedTopics is the expected topic count including topic0
	indexedTopics int

	// data describes the non-indexed parameters, in ABI order
	data abi.Arguments

	// decode builds the normalized payload from the log's indexed topics
	// (excluding topic0) and unpacked data values
	decode func(topics []common.Hash, values []interface{}) (events.Payload, error)
}

// schemasByTopic maps topic0 to its event schema.
var schemasByTopic = buildSchemas()

func buildSchemas() map[common.Hash]*schema {
	arg := func(name string, t abi.Type) abi.Argument {
		return abi.Argument{Name: name, Type: t}
	}

	schemas := []*schema{
		{
			eventType:     events.TypeRegistered,
			registry:      events.RegistryIdentity,
			indexedTopics: 3, // topic0, agentId, owner
			data:          abi.Arguments{arg("tokenURI", typeString)},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				tokenURI, err := asString(values[0])
				if err != nil {
					return nil, err
				}
				return events.RegisteredData{
					AgentID:  topicToDecimal(topics[0]),
					TokenURI: tokenURI,
					Owner:    topicToAddressHex(topics[1]),
				}, nil
			},
		},
		{
			eventType:     events.TypeMetadataSet,
			registry:      events.RegistryIdentity,
			indexedTopics: 3, // topic0, agentId, indexedKey (hash of the string)
			data:          abi.Arguments{arg("key", typeString), arg("value", typeBytes)},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				key, err := asString(values[0])
				if err != nil {
					return nil, err
				}
				value, err := asBytes(values[1])
				if err != nil {
					return nil, err
				}
				return events.MetadataSetData{
					AgentID:    topicToDecimal(topics[0]),
					IndexedKey: hashHex(topics[1]),
					Key:        key,
					Value:      bytesHex(value),
				}, nil
			},
		},
		{
			eventType:     events.TypeUriUpdated,
			registry:      events.RegistryIdentity,
			indexedTopics: 3, // topic0, agentId, updatedBy
			data:          abi.Arguments{arg("newUri", typeString)},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				newURI, err := asString(values[0])
				if err != nil {
					return nil, err
				}
				return events.UriUpdatedData{
					AgentID:   topicToDecimal(topics[0]),
					NewURI:    newURI,
					UpdatedBy: topicToAddressHex(topics[1]),
				}, nil
			},
		},
		{
			eventType:     events.TypeNewFeedback,
			registry:      events.RegistryReputation,
			indexedTopics: 4, // topic0, agentId, client, tag1
			data: abi.Arguments{
				arg("score", typeUint8),
				arg("tag2", typeBytes32),
				arg("feedbackURI", typeString),
				arg("feedbackHash", typeBytes32),
			},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				score, err := asUint8(values[0])
				if err != nil {
					return nil, err
				}
				tag2, err := asBytes32(values[1])
				if err != nil {
					return nil, err
				}
				feedbackURI, err := asString(values[2])
				if err != nil {
					return nil, err
				}
				feedbackHash, err := asBytes32(values[3])
				if err != nil {
					return nil, err
				}
				return events.NewFeedbackData{
					AgentID:      topicToDecimal(topics[0]),
					Client:       topicToAddressHex(topics[1]),
					Score:        score,
					Tag1:         hashHex(topics[2]),
					Tag2:         hashHex(tag2),
					FeedbackURI:  feedbackURI,
					FeedbackHash: hashHex(feedbackHash),
				}, nil
			},
		},
		{
			eventType:     events.TypeFeedbackRevoked,
			registry:      events.RegistryReputation,
			indexedTopics: 3, // topic0, agentId, client
			data: abi.Arguments{
				arg("feedbackIndex", typeUint256),
				arg("revoker", typeAddress),
			},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				feedbackIndex, err := asBigInt(values[0])
				if err != nil {
					return nil, err
				}
				revoker, err := asAddress(values[1])
				if err != nil {
					return nil, err
				}
				return events.FeedbackRevokedData{
					AgentID:       topicToDecimal(topics[0]),
					Client:        topicToAddressHex(topics[1]),
					FeedbackIndex: feedbackIndex.String(),
					Revoker:       addressHex(revoker),
				}, nil
			},
		},
		{
			eventType:     events.TypeResponseAppended,
			registry:      events.RegistryReputation,
			indexedTopics: 3, // topic0, agentId, client
			data: abi.Arguments{
				arg("feedbackIndex", typeUint256),
				arg("responder", typeAddress),
				arg("responseURI", typeString),
				arg("responseHash", typeBytes32),
			},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				feedbackIndex, err := asBigInt(values[0])
				if err != nil {
					return nil, err
				}
				responder, err := asAddress(values[1])
				if err != nil {
					return nil, err
				}
				responseURI, err := asString(values[2])
				if err != nil {
					return nil, err
				}
				responseHash, err := asBytes32(values[3])
				if err != nil {
					return nil, err
				}
				return events.ResponseAppendedData{
					AgentID:       topicToDecimal(topics[0]),
					Client:        topicToAddressHex(topics[1]),
					FeedbackIndex: feedbackIndex.String(),
					Responder:     addressHex(responder),
					ResponseURI:   responseURI,
					ResponseHash:  hashHex(responseHash),
				}, nil
			},
		},
		{
			eventType:     events.TypeValidationRequest,
			registry:      events.RegistryValidation,
			indexedTopics: 4, // topic0, validatorAddress, agentId, requestHash
			data:          abi.Arguments{arg("requestUri", typeString)},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				requestURI, err := asString(values[0])
				if err != nil {
					return nil, err
				}
				return events.ValidationRequestData{
					ValidatorAddress: topicToAddressHex(topics[0]),
					AgentID:          topicToDecimal(topics[1]),
					RequestURI:       requestURI,
					RequestHash:      hashHex(topics[2]),
				}, nil
			},
		},
		{
			eventType:     events.TypeValidationResponse,
			registry:      events.RegistryValidation,
			indexedTopics: 4, // topic0, validatorAddress, agentId, requestHash
			data: abi.Arguments{
				arg("response", typeUint8),
				arg("responseUri", typeString),
				arg("responseHash", typeBytes32),
				arg("tag", typeBytes32),
			},
			decode: func(topics []common.Hash, values []interface{}) (events.Payload, error) {
				response, err := asUint8(values[0])
				if err != nil {
					return nil, err
				}
				responseURI, err := asString(values[1])
				if err != nil {
					return nil, err
				}
				responseHash, err := asBytes32(values[2])
				if err != nil {
					return nil, err
				}
				tag, err := asBytes32(values[3])
				if err != nil {
					return nil, err
				}
				return events.ValidationResponseData{
					ValidatorAddress: topicToAddressHex(topics[0]),
					AgentID:          topicToDecimal(topics[1]),
					RequestHash:      hashHex(topics[2]),
					Response:         response,
					ResponseURI:      responseURI,
					ResponseHash:     hashHex(responseHash),
					Tag:              hashHex(tag),
				}, nil
			},
		},
	}

	signatures := map[events.Type]string{
		events.TypeRegistered:         sigRegistered,
		events.TypeMetadataSet:        sigMetadataSet,
		events.TypeUriUpdated:         sigUriUpdated,
		events.TypeNewFeedback:        sigNewFeedback,
		events.TypeFeedbackRevoked:    sigFeedbackRevoked,
		events.TypeResponseAppended:   sigResponseAppended,
		events.TypeValidationRequest:  sigValidationRequest,
		events.TypeValidationResponse: sigValidationResponse,
	}

	byTopic := make(map[common.Hash]*schema, len(schemas))
	for _, s := range schemas {
		byTopic[crypto.Keccak256Hash([]byte(signatures[s.eventType]))] = s
	}

	return byTopic
}

// Topic0 returns the topic hash for an event type. Exposed for tests and
// fixtures that need to construct raw logs.
func Topic0(t events.Type) common.Hash {
	for topic, s := range schemasByTopic {
		if s.eventType == t {
			return topic
		}
	}
	return common.Hash{}
}

// value conversion helpers for abi.Arguments.Unpack results

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func asBytes(v interface{}) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("expected bytes, got %T", v)
	}
	return b, nil
}

func asBytes32(v interface{}) (common.Hash, error) {
	b, ok := v.([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("expected bytes32, got %T", v)
	}
	return common.Hash(b), nil
}

func asUint8(v interface{}) (uint8, error) {
	u, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("expected uint8, got %T", v)
	}
	return u, nil
}

func asBigInt(v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected uint256, got %T", v)
	}
	return b, nil
}

func asAddress(v interface{}) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("expected address, got %T", v)
	}
	return a, nil
}
