package fsm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/comm"
	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/hardware"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
	"github.com/manuel-valencia/lab-framework/internal/util"
)

// biasFileName persists calibration gains across node restarts.
const biasFileName = "calibration_gains.json"

// Publisher is the outbound half of the transport session the manager
// publishes status, log, data, and response records through.
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// DataSink is the consumed interface of the external data-egress
// collaborator. Failures are logged and never fatal to the machine.
type DataSink interface {
	Send(records []hardware.Record, experimentName string) (string, error)
	CheckHealth() bool
}

// Manager drives one node through the experiment state machine. It is
// not safe for concurrent command dispatch: callers must serialize
// HandleCommand per node instance. State reads are guarded so the
// heartbeat publisher can sample the current state concurrently.
type Manager struct {
	cfg     config.Node
	driver  hardware.Driver
	pub     Publisher
	sink    DataSink
	dataDir string

	stateMu sync.RWMutex
	state   State

	history []string
	fsmLog  []protocol.LogRecord

	biasTable    map[string]float64
	calibSamples []float64

	experimentSpec  *protocol.Command
	experimentIndex int
	experimentData  []hardware.Record
	cmd             *protocol.Command
}

// NewManager initializes the hardware, loads persisted calibration
// gains, and transitions the machine from BOOT to IDLE. Hardware
// initialization failure is fatal; a node cannot usefully run without
// its driver.
func NewManager(cfg config.Node, driver hardware.Driver, pub Publisher, sink DataSink) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = cfg.ClientID + "Data"
	}

	m := &Manager{
		cfg:       cfg,
		driver:    driver,
		pub:       pub,
		sink:      sink,
		dataDir:   dataDir,
		state:     StateBoot,
		history:   []string{StateBoot.String()},
		biasTable: map[string]float64{},
	}
	m.loadBias()

	if err := driver.Initialize(cfg); err != nil {
		return nil, errors.Wrap(err, "hardware initialization failed")
	}

	m.transition(StateIdle)
	return m, nil
}

// State returns the current machine state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// History returns the ordered state names the machine has entered.
func (m *Manager) History() []string {
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// BiasTable returns a copy of the per-channel calibration offsets.
func (m *Manager) BiasTable() map[string]float64 {
	out := make(map[string]float64, len(m.biasTable))
	for k, v := range m.biasTable {
		out[k] = v
	}
	return out
}

// SeedBias installs the driver's default bias channels when no persisted
// gains were found. A loaded table is never overwritten.
func (m *Manager) SeedBias(defaults map[string]float64) {
	if len(m.biasTable) > 0 {
		return
	}
	for k, v := range defaults {
		m.biasTable[k] = v
	}
}

// HandleCommand is the main dispatcher for command execution and state
// transitions. Unknown commands leave state unchanged and record a
// validation error; errors inside state-entry logic are converted into a
// forced ERROR transition and never crash the hosting process. Every
// handled command publishes a response record with the measured
// response time.
func (m *Manager) HandleCommand(cmd *protocol.Command) {
	start := time.Now()

	if cmd == nil || cmd.Command == "" {
		m.logf("ERROR", "Invalid command structure.")
		return
	}
	if !protocol.IsValidCommand(cmd.Command) {
		m.logf("ERROR", "%v: %s", ErrValidation, cmd.Command)
		m.publishResponse(cmd, protocol.StatusError, fmt.Sprintf("unknown command: %s", cmd.Command), start)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logf("ERROR", "Command handler panic for %s: %v", cmd.Command, r)
			m.transition(StateError)
			m.publishResponse(cmd, protocol.StatusError, fmt.Sprintf("panic: %v", r), start)
		}
	}()

	m.cmd = cmd

	switch cmd.Command {
	case protocol.CommandCalibrate:
		m.transition(StateCalibrating)

	case protocol.CommandTest:
		target, ok := cmd.Params["target"].(string)
		if !ok {
			m.logf("ERROR", "Missing 'target' in Test command.")
			m.transition(StateError)
			break
		}
		if target == "sensor" {
			m.transition(StateTestingSensor)
		} else {
			m.experimentSpec = cmd
			m.transition(StateConfigureValidate)
		}

	case protocol.CommandRun:
		m.experimentSpec = cmd
		m.transition(StateConfigureValidate)

	case protocol.CommandTestValid:
		m.transition(StateTestingActuator)

	case protocol.CommandRunValid:
		if m.State() != StateConfigurePending {
			m.logf("WARN", "Invalid RunValid from state: %s", m.State())
			m.transition(StateError)
			break
		}
		m.transition(StateRunning)

	case protocol.CommandReset:
		m.transition(StateIdle)

	case protocol.CommandAbort:
		m.Abort("User request via command.")
	}

	status := protocol.StatusSuccess
	if m.State() == StateError {
		status = protocol.StatusError
	}
	m.publishResponse(cmd, status, "state="+m.State().String(), start)
}

// Abort publishes an abort status record, attempts a best-effort
// hardware stop, and forces the machine into ERROR. The status record is
// published before any hardware side effect.
func (m *Manager) Abort(reason string) {
	log.Warn().
		Str("node_id", m.cfg.ClientID).
		Str("reason", reason).
		Msg("Abort requested")

	m.publishStatus("ABORT", reason)
	if err := m.driver.Stop(); err != nil {
		m.logf("WARN", "Hardware stop failed during abort: %v", err)
	}
	m.transition(StateError)
}

// Shutdown releases the hardware and persists the FSM history and log
// to the per-node log directory.
func (m *Manager) Shutdown() error {
	if err := m.driver.Shutdown(); err != nil {
		m.logf("WARN", "Hardware shutdown failed: %v", err)
	}

	logDir := m.cfg.ClientID + "Logs"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return errors.Wrap(err, "create log dir")
	}

	historyPath := filepath.Join(logDir, m.cfg.ClientID+"_fsmHistory.log")
	f, err := os.Create(historyPath)
	if err != nil {
		return errors.Wrap(err, "write fsm history")
	}
	for _, s := range m.history {
		fmt.Fprintln(f, s)
	}
	f.Close()

	if len(m.fsmLog) > 0 {
		logPath := filepath.Join(logDir, m.cfg.ClientID+"_fsmLog.jsonl")
		lf, err := os.Create(logPath)
		if err != nil {
			return errors.Wrap(err, "write fsm log")
		}
		enc := json.NewEncoder(lf)
		for _, entry := range m.fsmLog {
			if err := enc.Encode(entry); err != nil {
				lf.Close()
				return errors.Wrap(err, "encode fsm log entry")
			}
		}
		lf.Close()
	}

	log.Info().Str("node_id", m.cfg.ClientID).Msg("Node shutdown complete")
	return nil
}

// transition verifies legality before switching. A request not in the
// transition table recursively forces ERROR, never a silent ignore.
// Entry-handler errors are caught here and converted into a forced
// ERROR transition.
func (m *Manager) transition(to State) {
	from := m.State()
	if !CanTransition(from, to) {
		m.logf("WARN", "%v: %s -> %s", ErrInvalidTransition, from, to)
		if from != StateError {
			m.transition(StateError)
		} else {
			m.setState(StateError)
		}
		return
	}

	m.exitState(from)
	m.setState(to)
	m.history = append(m.history, to.String())
	log.Info().
		Str("node_id", m.cfg.ClientID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("State transition")

	m.publishStatus(to.String(), "")

	if err := m.enterState(to); err != nil {
		m.logf("ERROR", "State entry failed for %s: %v", to, err)
		m.transition(StateError)
	}
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
}

// exitState runs before the state variable changes. Leaving RUNNING,
// CALIBRATING, or TESTING_SENSOR always invokes the hardware-stop hook.
func (m *Manager) exitState(s State) {
	switch s {
	case StateRunning, StateCalibrating, StateTestingSensor:
		if err := m.driver.Stop(); err != nil {
			m.logf("WARN", "Hardware stop failed on exit from %s: %v", s, err)
		}
	}
}

func (m *Manager) enterState(s State) error {
	switch s {
	case StateIdle:
		return m.driver.Stop()
	case StateCalibrating:
		return m.enterCalibrating()
	case StateTestingSensor:
		return m.enterTestingSensor()
	case StateConfigureValidate:
		return m.enterConfigureValidate()
	case StateConfigurePending:
		log.Info().Str("node_id", m.cfg.ClientID).Msg("Configuration valid, awaiting confirmation")
		return nil
	case StateTestingActuator:
		return m.enterTestingActuator()
	case StateRunning:
		return m.enterRunning()
	case StatePostProcess:
		return m.enterPostProcess()
	case StateDone:
		return m.enterDone()
	case StateError:
		log.Error().Str("node_id", m.cfg.ClientID).Msg("System faulted")
		return nil
	default:
		return nil
	}
}

func (m *Manager) enterCalibrating() error {
	if !m.cfg.Hardware.HasSensor {
		return errors.Wrap(ErrMissingCapability, "cannot calibrate")
	}

	cmd := m.cmd
	if finished, _ := cmd.Params["finished"].(bool); finished {
		return m.finishCalibration()
	}

	if err := m.driver.Calibrate(cmd); err != nil {
		return errors.Wrap(err, "calibration step")
	}
	if sample, ok := floatParam(cmd.Params, "height"); ok {
		m.calibSamples = append(m.calibSamples, sample)
		m.logf("INFO", "Calibration sample %d recorded: %g", len(m.calibSamples), sample)
	} else {
		m.logf("WARN", "Calibrate step missing numeric 'height' sample; ignored.")
	}
	return nil
}

// finishCalibration folds the accumulated samples into the bias table.
// Finishing with zero samples is a warning, not an error, and leaves the
// table untouched.
func (m *Manager) finishCalibration() error {
	if len(m.calibSamples) == 0 {
		m.logf("WARN", "Calibration finished with no samples; bias table unchanged.")
		m.transition(StateIdle)
		return nil
	}

	var sum float64
	for _, s := range m.calibSamples {
		sum += s
	}
	mean := sum / float64(len(m.calibSamples))
	for k := range m.biasTable {
		m.biasTable[k] += mean
	}
	m.calibSamples = nil
	m.saveBias()

	m.logf("INFO", "Calibration complete: bias adjusted by %g", mean)
	m.transition(StateIdle)
	return nil
}

func (m *Manager) enterTestingSensor() error {
	if !m.cfg.Hardware.HasSensor {
		return errors.Wrap(ErrMissingCapability, "cannot test sensor")
	}
	if err := m.driver.Test(m.cmd); err != nil {
		return errors.Wrap(err, "sensor diagnostics")
	}
	m.transition(StateIdle)
	return nil
}

func (m *Manager) enterTestingActuator() error {
	if !m.cfg.Hardware.HasActuator {
		return errors.Wrap(ErrMissingCapability, "cannot test actuator")
	}
	if err := m.driver.Test(m.cmd); err != nil {
		return errors.Wrap(err, "actuator diagnostics")
	}
	m.transition(StateIdle)
	return nil
}

// enterConfigureValidate validates either a single parameter set or a
// list of sub-experiments. Validation is all-or-nothing: one invalid
// sub-experiment returns the machine to IDLE without staging anything.
func (m *Manager) enterConfigureValidate() error {
	spec := m.experimentSpec
	if spec == nil {
		m.logf("WARN", "No experiment specification staged.")
		m.transition(StateIdle)
		return nil
	}

	if experiments, ok := multiExperiments(spec); ok {
		for i, exp := range experiments {
			params, ok := exp.(map[string]interface{})
			if !ok {
				m.logf("WARN", "Invalid experiment parameters in experiment %d.", i+1)
				m.transition(StateIdle)
				return nil
			}
			valid, err := m.driver.Configure(params)
			if err != nil {
				return errors.Wrapf(err, "configure experiment %d", i+1)
			}
			if !valid {
				m.logf("WARN", "Invalid experiment parameters in experiment %d.", i+1)
				m.transition(StateIdle)
				return nil
			}
		}
	} else {
		valid, err := m.driver.Configure(spec.Params)
		if err != nil {
			return errors.Wrap(err, "configure experiment")
		}
		if !valid {
			m.logf("WARN", "Invalid configuration parameters.")
			m.transition(StateIdle)
			return nil
		}
	}

	m.experimentIndex = 0
	if err := m.setupCurrentExperiment(); err != nil {
		m.logf("ERROR", "Experiment setup failed: %v", err)
		m.transition(StateIdle)
		return nil
	}
	m.transition(StateConfigurePending)
	return nil
}

// setupCurrentExperiment applies the staged experiment's parameters and
// logs which experiment is being prepared.
func (m *Manager) setupCurrentExperiment() error {
	params := m.currentParams()
	if experiments, ok := multiExperiments(m.experimentSpec); ok {
		name, _ := params["name"].(string)
		if name == "" {
			name = "unnamed"
		}
		m.logf("INFO", "Setting up experiment %d/%d: %q", m.experimentIndex+1, len(experiments), name)
		if _, err := m.driver.Configure(params); err != nil {
			return err
		}
		return nil
	}
	m.logf("INFO", "Setting up single experiment")
	return nil
}

func (m *Manager) enterRunning() error {
	records, err := m.driver.Run(m.cmd)
	if err != nil {
		return errors.Wrap(err, "experiment run")
	}
	m.experimentData = append(m.experimentData, records...)

	// Best-effort raw data stream for live observers.
	if len(records) > 0 {
		if err := m.pub.Publish(comm.NodeTopic(m.cfg.ClientID, comm.TopicSuffixData), records); err != nil {
			log.Debug().Err(err).Str("node_id", m.cfg.ClientID).Msg("Data stream publish failed")
		}
	}

	m.transition(StatePostProcess)
	return nil
}

// enterPostProcess persists buffered records, then either advances to
// the next queued sub-experiment or finalizes.
func (m *Manager) enterPostProcess() error {
	if len(m.experimentData) > 0 {
		outDir := m.dataDir
		if _, multi := multiExperiments(m.experimentSpec); multi {
			sub := fmt.Sprintf("MultiExperiment_%s", time.Now().Format("20060102_150405"))
			if name, ok := m.experimentSpec.Params["name"].(string); ok && name != "" {
				sub = sanitizeName(name)
			}
			outDir = filepath.Join(m.dataDir, sub)
		}

		base := fmt.Sprintf("%s_data_%s", m.cfg.ClientID, m.experimentTag())
		path, err := ExportRecords(m.experimentData, outDir, base)
		if err != nil {
			m.logf("ERROR", "Failed to save experiment data: %v", err)
		} else {
			m.logf("INFO", "Experiment data saved: %s", path)
		}
	}

	if experiments, ok := multiExperiments(m.experimentSpec); ok && m.experimentIndex < len(experiments)-1 {
		m.sendExperimentData()
		m.experimentData = nil
		m.experimentIndex++
		if err := m.setupCurrentExperiment(); err != nil {
			return errors.Wrap(err, "setup next experiment")
		}
		m.transition(StateRunning)
		return nil
	}

	m.transition(StateDone)
	return nil
}

// enterDone hands buffered data to the data-egress collaborator and
// returns the machine to IDLE.
func (m *Manager) enterDone() error {
	m.sendExperimentData()
	m.experimentData = nil
	m.transition(StateIdle)
	return nil
}

// sendExperimentData posts the buffered records to the egress
// collaborator tagged by experiment name or timestamp fallback.
// Egress failures are logged and never fatal to the state machine.
func (m *Manager) sendExperimentData() {
	if len(m.experimentData) == 0 {
		m.logf("INFO", "No experiment data to send to data service.")
		return
	}
	if m.sink == nil {
		return
	}

	tag := m.experimentTag()
	saved, err := m.sink.Send(m.experimentData, tag)
	if err != nil {
		m.logf("ERROR", "Data egress failed: %v", err)
		return
	}
	m.logf("INFO", "Experiment data sent to data service: %s", saved)
}

// experimentTag names the current experiment for files and egress,
// sanitized to a safe filename alphabet. Falls back to a timestamp.
func (m *Manager) experimentTag() string {
	spec := m.experimentSpec
	if spec == nil {
		return time.Now().Format("20060102_150405")
	}

	if experiments, ok := multiExperiments(spec); ok {
		if params, ok := experiments[m.experimentIndex].(map[string]interface{}); ok {
			if name, ok := params["name"].(string); ok && name != "" {
				return sanitizeName(name)
			}
		}
		if name, ok := spec.Params["name"].(string); ok && name != "" {
			return sanitizeName(fmt.Sprintf("%s_%d", name, m.experimentIndex+1))
		}
		return fmt.Sprintf("experiment_%d_%s", m.experimentIndex+1, time.Now().Format("20060102_150405"))
	}

	if name, ok := spec.Params["name"].(string); ok && name != "" {
		return sanitizeName(name)
	}
	return time.Now().Format("20060102_150405")
}

func (m *Manager) currentParams() map[string]interface{} {
	if m.experimentSpec == nil {
		return map[string]interface{}{}
	}
	if experiments, ok := multiExperiments(m.experimentSpec); ok {
		if params, ok := experiments[m.experimentIndex].(map[string]interface{}); ok {
			return params
		}
		return map[string]interface{}{}
	}
	return m.experimentSpec.Params
}

// publishStatus emits a state record on the node's status topic. Every
// state entry and every abort produces one.
func (m *Manager) publishStatus(state, reason string) {
	record := protocol.StatusRecord{
		State:     state,
		Reason:    reason,
		Timestamp: protocol.WireTime(time.Now()),
	}
	if err := m.pub.Publish(comm.NodeTopic(m.cfg.ClientID, comm.TopicSuffixStatus), record); err != nil {
		log.Warn().Err(err).Str("node_id", m.cfg.ClientID).Msg("Status publish failed")
	}
}

func (m *Manager) publishResponse(cmd *protocol.Command, status, details string, start time.Time) {
	resp := protocol.Response{
		Status:         status,
		Command:        cmd.Command,
		NodeID:         m.cfg.ClientID,
		Details:        details,
		Timestamp:      protocol.UnixTime(time.Now()),
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if err := m.pub.Publish(comm.ResponseTopic, resp); err != nil {
		log.Warn().Err(err).Str("node_id", m.cfg.ClientID).Msg("Response publish failed")
	}
}

// logf publishes a structured log record on the node's log topic and
// traces it locally.
func (m *Manager) logf(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	record := protocol.LogRecord{
		Level:     level,
		Msg:       msg,
		Timestamp: protocol.WireTime(time.Now()),
	}
	m.fsmLog = append(m.fsmLog, record)

	event := log.Info()
	switch level {
	case "WARN":
		event = log.Warn()
	case "ERROR":
		event = log.Error()
	}
	event.Str("node_id", m.cfg.ClientID).Msg(msg)

	if err := m.pub.Publish(comm.NodeTopic(m.cfg.ClientID, comm.TopicSuffixLog), record); err != nil {
		log.Debug().Err(err).Str("node_id", m.cfg.ClientID).Msg("Log publish failed")
	}
}

func (m *Manager) loadBias() {
	path := filepath.Join(m.dataDir, biasFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to load calibration gains")
		}
		return
	}
	if err := json.Unmarshal(data, &m.biasTable); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Corrupt calibration gains file, starting empty")
		m.biasTable = map[string]float64{}
		return
	}
	log.Info().Str("path", path).Msg("Loaded previous calibration gains")
}

func (m *Manager) saveBias() {
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		m.logf("WARN", "Failed to persist calibration gains: %v", err)
		return
	}
	data, err := json.MarshalIndent(m.biasTable, "", "  ")
	if err != nil {
		m.logf("WARN", "Failed to persist calibration gains: %v", err)
		return
	}
	path := filepath.Join(m.dataDir, biasFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logf("WARN", "Failed to persist calibration gains: %v", err)
	}
}

func multiExperiments(spec *protocol.Command) ([]interface{}, bool) {
	if spec == nil {
		return nil, false
	}
	experiments, ok := spec.Params["experiments"].([]interface{})
	if !ok || len(experiments) == 0 {
		return nil, false
	}
	return experiments, true
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sanitizeName(name string) string {
	return util.MakeValidFileName(name)
}
