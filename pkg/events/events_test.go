package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_Valid(t *testing.T) {
	for _, eventType := range AllTypes() {
		assert.True(t, eventType.Valid(), eventType)
	}
	assert.False(t, Type("Transfer").Valid())
	assert.False(t, Type("").Valid())
}

func TestType_Registry(t *testing.T) {
	assert.Equal(t, RegistryIdentity, TypeRegistered.Registry())
	assert.Equal(t, RegistryIdentity, TypeMetadataSet.Registry())
	assert.Equal(t, RegistryIdentity, TypeUriUpdated.Registry())
	assert.Equal(t, RegistryReputation, TypeNewFeedback.Registry())
	assert.Equal(t, RegistryReputation, TypeFeedbackRevoked.Registry())
	assert.Equal(t, RegistryReputation, TypeResponseAppended.Registry())
	assert.Equal(t, RegistryValidation, TypeValidationRequest.Registry())
	assert.Equal(t, RegistryValidation, TypeValidationResponse.Registry())
}

func TestUnmarshalPayload_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
	}{
		{
			name: "Registered",
			payload: RegisteredData{
				AgentID:  "42",
				TokenURI: "https://agents.example.com/42.json",
				Owner:    "0x00000000000000000000000000000000000000aa",
			},
		},
		{
			name: "NewFeedback",
			payload: NewFeedbackData{
				AgentID:      "7",
				Client:       "0x00000000000000000000000000000000000000bb",
				Score:        95,
				Tag1:         "0x" + repeat64("1"),
				Tag2:         "0x" + repeat64("2"),
				FeedbackURI:  "ipfs://feedback",
				FeedbackHash: "0x" + repeat64("3"),
			},
		},
		{
			name: "ValidationResponse",
			payload: ValidationResponseData{
				ValidatorAddress: "0x00000000000000000000000000000000000000cc",
				AgentID:          "9",
				RequestHash:      "0x" + repeat64("4"),
				Response:         1,
				ResponseURI:      "ipfs://response",
				ResponseHash:     "0x" + repeat64("5"),
				Tag:              "0x" + repeat64("6"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.payload)
			require.NoError(t, err)

			decoded, err := UnmarshalPayload(tt.payload.EventType(), data)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestUnmarshalPayload_UnknownType(t *testing.T) {
	_, err := UnmarshalPayload(Type("Bogus"), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
}

func TestPayloadJSONFieldNames(t *testing.T) {
	data, err := json.Marshal(FeedbackRevokedData{
		AgentID:       "1",
		Client:        "0xaa",
		FeedbackIndex: "3",
		Revoker:       "0xbb",
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "agent_id")
	assert.Contains(t, raw, "feedback_index")
	assert.Contains(t, raw, "revoker")
}

func repeat64(s string) string {
	return strings.Repeat(s, 64)
}
