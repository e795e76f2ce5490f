package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidCommand(t *testing.T) {
	for _, name := range ValidCommands {
		assert.True(t, IsValidCommand(name), name)
	}

	assert.False(t, IsValidCommand("Calibrat"))
	assert.False(t, IsValidCommand("calibrate"))
	assert.False(t, IsValidCommand(""))
}

func TestCommandWireFormat(t *testing.T) {
	cmd := Command{
		Command:   CommandRun,
		Params:    map[string]interface{}{"amplitude": 2.5},
		NodeID:    "wavemaker",
		SessionID: "abc-123",
		Timestamp: 1700000000.25,
	}

	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	// Field names are the cross-implementation contract.
	assert.Equal(t, "Run", raw["command"])
	assert.Equal(t, "wavemaker", raw["node_id"])
	assert.Equal(t, "abc-123", raw["session_id"])
	assert.Equal(t, 1700000000.25, raw["timestamp"])
}

func TestResponseWireFormat(t *testing.T) {
	data, err := json.Marshal(Response{
		Status:         StatusSuccess,
		Command:        CommandReset,
		NodeID:         "gauge",
		ResponseTimeMS: 12.5,
	})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "success", raw["status"])
	assert.Equal(t, 12.5, raw["response_time_ms"])
}

func TestWireTime(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	assert.Equal(t, "2026-03-14 09:26:53.589", WireTime(ts))
}

func TestUnixTime(t *testing.T) {
	ts := time.Unix(1700000000, 250_000_000)
	assert.InDelta(t, 1700000000.25, UnixTime(ts), 1e-6)
}
