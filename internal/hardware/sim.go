package hardware

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// Sim is a software-only Driver used for bench testing and integration
// runs without physical hardware. It accepts any waveform spec with a
// positive amplitude and produces a short synthetic sample series.
type Sim struct {
	// DefaultBias seeds the calibration bias table for nodes that have
	// never been calibrated.
	DefaultBias map[string]float64

	// Samples is the number of records a simulated run produces
	// (default 32).
	Samples int

	mu      sync.Mutex
	params  map[string]interface{}
	running bool
}

// NewSim returns a simulated driver with one wave-gauge channel.
func NewSim() *Sim {
	return &Sim{
		DefaultBias: map[string]float64{"gauge1": 0},
		Samples:     32,
	}
}

// Initialize implements Driver.
func (s *Sim) Initialize(cfg config.Node) error {
	log.Info().
		Str("node_id", cfg.ClientID).
		Bool("has_sensor", cfg.Hardware.HasSensor).
		Bool("has_actuator", cfg.Hardware.HasActuator).
		Msg("Simulated hardware initialized")
	return nil
}

// Calibrate implements Driver. The simulated step has no physical side
// effect.
func (s *Sim) Calibrate(cmd *protocol.Command) error {
	log.Debug().Str("command", cmd.Command).Msg("Simulated calibration step")
	return nil
}

// Test implements Driver.
func (s *Sim) Test(cmd *protocol.Command) error {
	log.Debug().Str("command", cmd.Command).Msg("Simulated diagnostics pass")
	return nil
}

// Run implements Driver. Produces a synthetic sinusoid scaled by the
// configured amplitude.
func (s *Sim) Run(cmd *protocol.Command) ([]Record, error) {
	s.mu.Lock()
	params := s.params
	s.running = true
	s.mu.Unlock()

	if params == nil {
		return nil, errors.New("sim: run requested before configuration")
	}

	amplitude := 1.0
	if a, ok := params["amplitude"].(float64); ok {
		amplitude = a
	}

	n := s.Samples
	if n <= 0 {
		n = 32
	}
	records := make([]Record, 0, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		records = append(records, Record{
			"t":     float64(i) / float64(n),
			"value": amplitude * math.Sin(2*math.Pi*float64(i)/float64(n)),
			"ts":    protocol.WireTime(start),
		})
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return records, nil
}

// Configure implements Driver. A parameter set is valid when it carries
// a positive amplitude; waveType defaults to "sin".
func (s *Sim) Configure(params map[string]interface{}) (bool, error) {
	amplitude, ok := params["amplitude"].(float64)
	if !ok || amplitude <= 0 {
		return false, nil
	}

	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
	return true, nil
}

// Stop implements Driver.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		log.Debug().Msg("Simulated hardware stopped mid-run")
	}
	s.running = false
	return nil
}

// Shutdown implements Driver.
func (s *Sim) Shutdown() error {
	return s.Stop()
}
