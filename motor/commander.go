package motor

import "github.com/bapsf-motion/go-scl/scl"

// Commander is the drive-facing API consumed by higher layers such as axis
// and probe-drive controllers. *Motor implements it.
type Commander interface {
	// Connect establishes or validates the TCP connection to the drive.
	Connect() error
	// Run starts the executor goroutine and its heartbeat.
	Run() error
	// Send executes a named command and returns its wire outcome.
	Send(name string, args ...any) (scl.Result, error)
	// Status returns a copy of the current drive status snapshot.
	Status() DeviceStatus
	// Position returns the drive position in steps.
	Position() (int64, error)
	// MoveTo moves the drive to an absolute position in steps.
	MoveTo(pos int64) error
	// Stop halts movement, softly or immediately.
	Stop(soft bool) error
	// Signals returns the notification signals of the actor.
	Signals() *Signals
	// Config returns the serializable snapshot of the actor configuration.
	Config() Snapshot
	// Terminate stops the drive and shuts the actor down.
	Terminate(delayLoopStop bool)
}

var _ Commander = (*Motor)(nil)
