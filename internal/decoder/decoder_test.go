package decoder

import (
	"math/big"
	"testing"

	"github.com/agentscan/registry-indexer/pkg/config"
	"github.com/agentscan/registry-indexer/pkg/events"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = uint64(11155111)

var (
	identityAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	reputationAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	validationAddr = common.HexToAddress("0x3333333333333333333333333333333333333333")
	ownerAddr      = common.HexToAddress("0xAbCd000000000000000000000000000000001234")
	clientAddr     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func testDecoder(t *testing.T) *Decoder {
	t.Helper()

	d, err := New([]config.ChainConfig{
		{
			ChainID: testChainID,
			Name:    "sepolia",
			Enabled: true,
			Contracts: config.ContractAddresses{
				IdentityRegistry:   identityAddr.Hex(),
				ReputationRegistry: reputationAddr.Hex(),
				ValidationRegistry: validationAddr.Hex(),
			},
		},
	})
	require.NoError(t, err)

	return d
}

func packData(t *testing.T, eventType events.Type, values ...interface{}) []byte {
	t.Helper()

	s := schemasByTopic[Topic0(eventType)]
	require.NotNil(t, s)

	data, err := s.data.Pack(values...)
	require.NoError(t, err)

	return data
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func uintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func TestDecode_Registered(t *testing.T) {
	d := testDecoder(t)

	log := types.Log{
		Address: identityAddr,
		Topics: []common.Hash{
			Topic0(events.TypeRegistered),
			uintTopic(42),
			addressTopic(ownerAddr),
		},
		Data:        packData(t, events.TypeRegistered, "https://agents.example.com/42.json"),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xAAAA"),
		Index:       3,
	}

	event, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, testChainID, event.ChainID)
	assert.Equal(t, uint64(100), event.BlockNumber)
	assert.Equal(t, uint32(3), event.LogIndex)
	assert.Equal(t, events.TypeRegistered, event.Type)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", event.ContractAddress)

	payload, ok := event.Data.(events.RegisteredData)
	require.True(t, ok)
	assert.Equal(t, "42", payload.AgentID)
	assert.Equal(t, "https://agents.example.com/42.json", payload.TokenURI)
	// Addresses are normalized to lower-case hex
	assert.Equal(t, "0xabcd000000000000000000000000000000001234", payload.Owner)
}

func TestDecode_NewFeedback(t *testing.T) {
	d := testDecoder(t)

	tag1 := common.HexToHash("0x1111000000000000000000000000000000000000000000000000000000000001")
	tag2 := common.HexToHash("0x2222000000000000000000000000000000000000000000000000000000000002")
	feedbackHash := common.HexToHash("0x3333000000000000000000000000000000000000000000000000000000000003")

	log := types.Log{
		Address: reputationAddr,
		Topics: []common.Hash{
			Topic0(events.TypeNewFeedback),
			uintTopic(7),
			addressTopic(clientAddr),
			tag1,
		},
		Data: packData(t, events.TypeNewFeedback,
			uint8(95), [32]byte(tag2), "ipfs://feedback", [32]byte(feedbackHash)),
		BlockNumber: 200,
		TxHash:      common.HexToHash("0xBBBB"),
		Index:       0,
	}

	event, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, events.TypeNewFeedback, event.Type)

	payload, ok := event.Data.(events.NewFeedbackData)
	require.True(t, ok)
	assert.Equal(t, "7", payload.AgentID)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", payload.Client)
	assert.Equal(t, uint8(95), payload.Score)
	assert.Equal(t, "0x1111000000000000000000000000000000000000000000000000000000000001", payload.Tag1)
	assert.Equal(t, "0x2222000000000000000000000000000000000000000000000000000000000002", payload.Tag2)
	assert.Equal(t, "ipfs://feedback", payload.FeedbackURI)
	assert.Equal(t, "0x3333000000000000000000000000000000000000000000000000000000000003", payload.FeedbackHash)
}

func TestDecode_FeedbackRevoked(t *testing.T) {
	d := testDecoder(t)

	revoker := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	log := types.Log{
		Address: reputationAddr,
		Topics: []common.Hash{
			Topic0(events.TypeFeedbackRevoked),
			uintTopic(7),
			addressTopic(clientAddr),
		},
		Data:        packData(t, events.TypeFeedbackRevoked, big.NewInt(3), revoker),
		BlockNumber: 201,
	}

	event, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	require.NotNil(t, event)

	payload, ok := event.Data.(events.FeedbackRevokedData)
	require.True(t, ok)
	assert.Equal(t, "3", payload.FeedbackIndex)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", payload.Revoker)
}

func TestDecode_ValidationResponse(t *testing.T) {
	d := testDecoder(t)

	requestHash := common.HexToHash("0x4444000000000000000000000000000000000000000000000000000000000004")
	responseHash := common.HexToHash("0x5555000000000000000000000000000000000000000000000000000000000005")
	tag := common.HexToHash("0x6666000000000000000000000000000000000000000000000000000000000006")
	validator := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	log := types.Log{
		Address: validationAddr,
		Topics: []common.Hash{
			Topic0(events.TypeValidationResponse),
			addressTopic(validator),
			uintTopic(9),
			requestHash,
		},
		Data: packData(t, events.TypeValidationResponse,
			uint8(1), "ipfs://response", [32]byte(responseHash), [32]byte(tag)),
		BlockNumber: 300,
	}

	event, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	require.NotNil(t, event)

	payload, ok := event.Data.(events.ValidationResponseData)
	require.True(t, ok)
	assert.Equal(t, "0x00000000000000000000000000000000000000dd", payload.ValidatorAddress)
	assert.Equal(t, "9", payload.AgentID)
	assert.Equal(t, uint8(1), payload.Response)
	assert.Equal(t, "ipfs://response", payload.ResponseURI)
}

func TestDecode_UnknownContract(t *testing.T) {
	d := testDecoder(t)

	log := types.Log{
		Address: common.HexToAddress("0x9999999999999999999999999999999999999999"),
		Topics:  []common.Hash{Topic0(events.TypeRegistered)},
	}

	event, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDecode_WrongRegistryForTopic(t *testing.T) {
	d := testDecoder(t)

	// A Registered topic emitted from the reputation contract is not a
	// known (registry, event) pair.
	log := types.Log{
		Address: reputationAddr,
		Topics: []common.Hash{
			Topic0(events.TypeRegistered),
			uintTopic(42),
			addressTopic(ownerAddr),
		},
		Data: packData(t, events.TypeRegistered, "uri"),
	}

	event, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDecode_UnknownChain(t *testing.T) {
	d := testDecoder(t)

	log := types.Log{
		Address: identityAddr,
		Topics:  []common.Hash{Topic0(events.TypeRegistered)},
	}

	event, err := d.Decode(1, log)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestDecode_MalformedData(t *testing.T) {
	d := testDecoder(t)

	log := types.Log{
		Address: identityAddr,
		Topics: []common.Hash{
			Topic0(events.TypeRegistered),
			uintTopic(42),
			addressTopic(ownerAddr),
		},
		Data: []byte{0x01, 0x02},
	}

	_, err := d.Decode(testChainID, log)
	require.Error(t, err)
}

func TestDecode_TopicCountMismatch(t *testing.T) {
	d := testDecoder(t)

	log := types.Log{
		Address: identityAddr,
		Topics: []common.Hash{
			Topic0(events.TypeRegistered),
			uintTopic(42),
		},
		Data: packData(t, events.TypeRegistered, "uri"),
	}

	_, err := d.Decode(testChainID, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topics")
}

func TestDecode_Deterministic(t *testing.T) {
	d := testDecoder(t)

	log := types.Log{
		Address: identityAddr,
		Topics: []common.Hash{
			Topic0(events.TypeRegistered),
			uintTopic(42),
			addressTopic(ownerAddr),
		},
		Data:        packData(t, events.TypeRegistered, "uri"),
		BlockNumber: 1,
	}

	first, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	second, err := d.Decode(testChainID, log)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAddresses(t *testing.T) {
	d := testDecoder(t)

	addrs := d.Addresses(testChainID)
	require.Len(t, addrs, 3)
	assert.Equal(t, identityAddr, addrs[0])
	assert.Equal(t, reputationAddr, addrs[1])
	assert.Equal(t, validationAddr, addrs[2])

	assert.Nil(t, d.Addresses(404))
}
