package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

func TestSimConfigureValidation(t *testing.T) {
	s := NewSim()

	// Case 1: positive amplitude is accepted.
	valid, err := s.Configure(map[string]interface{}{"amplitude": 2.0})
	require.NoError(t, err)
	assert.True(t, valid)

	// Case 2: missing or non-positive amplitude is rejected, not an error.
	valid, err = s.Configure(map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = s.Configure(map[string]interface{}{"amplitude": -0.5})
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSimRunRequiresConfiguration(t *testing.T) {
	s := NewSim()
	_, err := s.Run(&protocol.Command{Command: protocol.CommandRun})
	assert.Error(t, err)
}

func TestSimRunProducesScaledSeries(t *testing.T) {
	s := NewSim()
	require.NoError(t, s.Initialize(config.Node{ClientID: "sim"}))

	valid, err := s.Configure(map[string]interface{}{"amplitude": 3.0})
	require.NoError(t, err)
	require.True(t, valid)

	records, err := s.Run(&protocol.Command{Command: protocol.CommandRun})
	require.NoError(t, err)
	require.Len(t, records, s.Samples)

	var max float64
	for _, r := range records {
		v := r["value"].(float64)
		if v > max {
			max = v
		}
		assert.Contains(t, r, "t")
		assert.Contains(t, r, "ts")
	}
	assert.InDelta(t, 3.0, max, 1e-9)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Shutdown())
}
