package controller

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// Step is one command in a scripted sequence.
type Step struct {
	Command string
	Params  map[string]interface{}
}

// StepResult pairs a step with the response it produced.
type StepResult struct {
	Step     Step
	Response *protocol.Response
}

// CommandSender is the subset of the controller service a sequence
// runner needs. Satisfied by *Service.
type CommandSender interface {
	SendCommand(nodeID, command string, params map[string]interface{}, sessionID string) error
	WaitForResponse(nodeID string) (*protocol.Response, error)
}

// RunSequence drives a node through steps in order under one session id,
// waiting out each command before sending the next. Stops at the first
// transport failure, timeout, or error-status response; results for the
// completed steps are returned either way.
func RunSequence(sender CommandSender, nodeID string, steps []Step) ([]StepResult, error) {
	sessionID := uuid.NewString()
	log.Info().
		Str("node_id", nodeID).
		Str("session_id", sessionID).
		Int("steps", len(steps)).
		Msg("Starting command sequence")

	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		if err := sender.SendCommand(nodeID, step.Command, step.Params, sessionID); err != nil {
			return results, errors.Wrapf(err, "step %d (%s)", i, step.Command)
		}

		resp, err := sender.WaitForResponse(nodeID)
		if err != nil {
			return results, errors.Wrapf(err, "step %d (%s)", i, step.Command)
		}
		results = append(results, StepResult{Step: step, Response: resp})

		if resp.Status == protocol.StatusError {
			return results, errors.Errorf("step %d (%s) failed on %s: %s", i, step.Command, nodeID, resp.Details)
		}
	}

	log.Info().
		Str("node_id", nodeID).
		Str("session_id", sessionID).
		Msg("Command sequence complete")
	return results, nil
}

// CalibrationSteps builds the calibration hand-shake for a series of
// reference heights: one Calibrate per sample, then the finishing
// Calibrate that folds the samples into the node's bias table.
func CalibrationSteps(heights []float64) []Step {
	steps := make([]Step, 0, len(heights)+1)
	for _, h := range heights {
		steps = append(steps, Step{
			Command: protocol.CommandCalibrate,
			Params:  map[string]interface{}{"height": h},
		})
	}
	steps = append(steps, Step{
		Command: protocol.CommandCalibrate,
		Params:  map[string]interface{}{"finished": true},
	})
	return steps
}

// ExperimentSteps builds the validate-then-run pair for one experiment
// specification.
func ExperimentSteps(params map[string]interface{}) []Step {
	return []Step{
		{Command: protocol.CommandRun, Params: params},
		{Command: protocol.CommandRunValid},
	}
}
