// Package decoder turns raw EVM logs into typed, normalized registry events.
// Decoding is deterministic and free of side effects; all I/O belongs to the
// indexer loop.
package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/agentscan/registry-indexer/pkg/config"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// chainContracts maps the registry contract addresses of one chain.
type chainContracts struct {
	registries map[common.Address]events.Registry
	addresses  []common.Address
}

// Decoder resolves (contract address, topic0) pairs against the known
// registries of each configured chain.
type Decoder struct {
	chains map[uint64]chainContracts
}

// New builds a decoder from the chain configurations.
func New(chains []config.ChainConfig) (*Decoder, error) {
	d := &Decoder{chains: make(map[uint64]chainContracts, len(chains))}

	for _, chain := range chains {
		identity, err := parseAddress(chain.Contracts.IdentityRegistry)
		if err != nil {
			return nil, fmt.Errorf("chain %d: invalid identity_registry: %w", chain.ChainID, err)
		}
		reputation, err := parseAddress(chain.Contracts.ReputationRegistry)
		if err != nil {
			return nil, fmt.Errorf("chain %d: invalid reputation_registry: %w", chain.ChainID, err)
		}
		validation, err := parseAddress(chain.Contracts.ValidationRegistry)
		if err != nil {
			return nil, fmt.Errorf("chain %d: invalid validation_registry: %w", chain.ChainID, err)
		}

		d.chains[chain.ChainID] = chainContracts{
			registries: map[common.Address]events.Registry{
				identity:   events.RegistryIdentity,
				reputation: events.RegistryReputation,
				validation: events.RegistryValidation,
			},
			addresses: []common.Address{identity, reputation, validation},
		}
	}

	return d, nil
}

// Addresses returns the registry contract addresses for a chain, in
// identity, reputation, validation order. Used to build log filters.
func (d *Decoder) Addresses(chainID uint64) []common.Address {
	contracts, ok := d.chains[chainID]
	if !ok {
		return nil
	}
	out := make([]common.Address, len(contracts.addresses))
	copy(out, contracts.addresses)
	return out
}

// Decode maps a raw log to a typed event. The returned event carries no
// block timestamp; the indexer loop joins that in from the block header.
// A log whose (contract, topic0) pair matches no known registry event
// yields (nil, nil) and should be skipped.
func (d *Decoder) Decode(chainID uint64, log types.Log) (*events.Event, error) {
	contracts, ok := d.chains[chainID]
	if !ok {
		return nil, nil
	}

	registry, ok := contracts.registries[log.Address]
	if !ok {
		return nil, nil
	}

	if len(log.Topics) == 0 {
		return nil, nil
	}

	s, ok := schemasByTopic[log.Topics[0]]
	if !ok || s.registry != registry {
		return nil, nil
	}

	if len(log.Topics) != s.indexedTopics {
		return nil, fmt.Errorf("%s: expected %d topics, got %d", s.eventType, s.indexedTopics, len(log.Topics))
	}

	values, err := s.data.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to unpack data: %w", s.eventType, err)
	}
	if len(values) != len(s.data) {
		return nil, fmt.Errorf("%s: expected %d data values, got %d", s.eventType, len(s.data), len(values))
	}

	payload, err := s.decode(log.Topics[1:], values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.eventType, err)
	}

	return &events.Event{
		ChainID:         chainID,
		BlockNumber:     log.BlockNumber,
		TransactionHash: hashHex(log.TxHash),
		LogIndex:        uint32(log.Index),
		ContractAddress: addressHex(log.Address),
		Type:            s.eventType,
		Data:            payload,
	}, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a hex address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// normalization helpers: lower-case 0x hex for addresses, hashes, and byte
// arrays; decimal strings for uint256 values.

func addressHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func hashHex(h common.Hash) string {
	return strings.ToLower(h.Hex())
}

func bytesHex(b []byte) string {
	return "0x" + strings.ToLower(common.Bytes2Hex(b))
}

func topicToDecimal(topic common.Hash) string {
	return new(big.Int).SetBytes(topic[:]).String()
}

func topicToAddressHex(topic common.Hash) string {
	return addressHex(common.BytesToAddress(topic[:]))
}
