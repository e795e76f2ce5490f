package controller

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// scriptedSender replays canned responses in order.
type scriptedSender struct {
	sent      []string
	sessions  map[string]bool
	responses []*protocol.Response
	sendErr   error
}

func (s *scriptedSender) SendCommand(nodeID, command string, params map[string]interface{}, sessionID string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, command)
	if s.sessions == nil {
		s.sessions = map[string]bool{}
	}
	s.sessions[sessionID] = true
	return nil
}

func (s *scriptedSender) WaitForResponse(nodeID string) (*protocol.Response, error) {
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func ok(command string) *protocol.Response {
	return &protocol.Response{NodeID: "wm1", Command: command, Status: protocol.StatusSuccess}
}

func TestRunSequenceHappyPath(t *testing.T) {
	sender := &scriptedSender{responses: []*protocol.Response{
		ok(protocol.CommandCalibrate),
		ok(protocol.CommandRun),
		ok(protocol.CommandRunValid),
	}}

	steps := []Step{
		{Command: protocol.CommandCalibrate, Params: map[string]interface{}{"finished": true}},
		{Command: protocol.CommandRun, Params: map[string]interface{}{"amplitude": 2.0}},
		{Command: protocol.CommandRunValid},
	}

	results, err := RunSequence(sender, "wm1", steps)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, []string{"Calibrate", "Run", "RunValid"}, sender.sent)

	// One session id spans the whole sequence.
	assert.Len(t, sender.sessions, 1)
}

func TestRunSequenceStopsOnErrorStatus(t *testing.T) {
	sender := &scriptedSender{responses: []*protocol.Response{
		ok(protocol.CommandRun),
		{NodeID: "wm1", Command: protocol.CommandRunValid, Status: protocol.StatusError, Details: "fault"},
	}}

	steps := ExperimentSteps(map[string]interface{}{"amplitude": 2.0})
	results, err := RunSequence(sender, "wm1", steps)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fault")
	// The failing step's response is still reported.
	assert.Len(t, results, 2)
	assert.Len(t, sender.sent, 2)
}

func TestCalibrationSteps(t *testing.T) {
	steps := CalibrationSteps([]float64{0.1, 0.3})
	require.Len(t, steps, 3)

	assert.Equal(t, 0.1, steps[0].Params["height"])
	assert.Equal(t, 0.3, steps[1].Params["height"])
	assert.Equal(t, true, steps[2].Params["finished"])
	for _, s := range steps {
		assert.Equal(t, protocol.CommandCalibrate, s.Command)
	}
}
