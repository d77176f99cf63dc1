package eventlog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeMarshalMergesDataFieldsAtTopLevel(t *testing.T) {
	meta := NewMetadata(uuid.New(), "corr-1", "purchase-worker", time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC))
	data, err := json.Marshal(map[string]any{"purchaseId": "p-1", "sessionCount": 10})
	require.NoError(t, err)

	env := Envelope{Metadata: meta, Type: EventPurchaseCreated, Timestamp: meta.Timestamp, UserID: "student-1", Role: RoleStudent, Data: data}

	raw, err := env.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "p-1", decoded["purchaseId"])
	assert.Equal(t, float64(10), decoded["sessionCount"])
	assert.Equal(t, EventPurchaseCreated, decoded["type"])
	assert.Equal(t, "student-1", decoded["userId"])
}

func TestEnvelopeUnmarshalKeepsRawDataForCallerDecode(t *testing.T) {
	meta := NewMetadata(uuid.New(), "corr-1", "purchase-worker", time.Now())
	env := Envelope{Metadata: meta, Type: EventPurchaseCreated, Timestamp: meta.Timestamp, UserID: "student-1", Role: RoleStudent}

	data, err := json.Marshal(PurchaseCreatedData{PurchaseID: uuid.New(), PurchaseTier: 20})
	require.NoError(t, err)
	env.Data = data

	raw, err := env.Marshal()
	require.NoError(t, err)

	decoded, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, EventPurchaseCreated, decoded.Type)
	assert.Equal(t, meta.CorrelationID, decoded.Metadata.CorrelationID)

	var payload PurchaseCreatedData
	require.NoError(t, json.Unmarshal(decoded.Data, &payload))
	assert.Equal(t, 20, payload.PurchaseTier)
}

func TestUnmarshalRejectsMalformedJSON(t *testing.T) {
	_, err := Unmarshal([]byte(`{not json`))
	assert.Error(t, err)
}
