// Package hardware defines the capability interface between the
// experiment state machine and concrete hardware drivers. The state
// machine holds a Driver by interface reference and never assumes a
// concrete type; capability gating (sensor/actuator) happens in the
// state machine, not in the driver.
package hardware

import (
	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/protocol"
)

// Record is one row of buffered experiment data.
type Record = map[string]interface{}

// Driver is implemented by concrete hardware backends.
type Driver interface {
	// Initialize prepares the hardware using the node configuration.
	// Called once before the state machine leaves BOOT.
	Initialize(cfg config.Node) error

	// Calibrate performs one physical calibration step for the given
	// command. Sample bookkeeping is owned by the state machine.
	Calibrate(cmd *protocol.Command) error

	// Test executes sensor or actuator diagnostics depending on the
	// command target.
	Test(cmd *protocol.Command) error

	// Run executes the configured experiment and returns the collected
	// data records.
	Run(cmd *protocol.Command) ([]Record, error)

	// Configure validates and applies one experiment parameter set.
	// Returns false when the parameters are invalid.
	Configure(params map[string]interface{}) (bool, error)

	// Stop halts actuators and terminates readings. Called on state
	// exits and on abort; must be safe to call repeatedly.
	Stop() error

	// Shutdown releases the hardware on full node shutdown.
	Shutdown() error
}
