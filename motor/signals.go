package motor

import (
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Signal notifies subscribers of actor events.
//
// Handlers are invoked synchronously on the emitting goroutine, so they must
// not block; a handler that issues commands back into the actor should do so
// from its own goroutine.
type Signal struct {
	handlers *xsync.MapOf[uuid.UUID, func()]
}

func newSignal() *Signal {
	return &Signal{handlers: xsync.NewMapOf[uuid.UUID, func()]()}
}

// Connect registers a handler and returns the subscription handle used to
// disconnect it.
func (s *Signal) Connect(handler func()) uuid.UUID {
	id := uuid.New()
	s.handlers.Store(id, handler)

	return id
}

// Disconnect removes the handler registered under id.
func (s *Signal) Disconnect(id uuid.UUID) {
	s.handlers.Delete(id)
}

// DisconnectAll removes every registered handler.
func (s *Signal) DisconnectAll() {
	s.handlers.Clear()
}

// Emit invokes all registered handlers.
func (s *Signal) Emit() {
	s.handlers.Range(func(_ uuid.UUID, handler func()) bool {
		handler()
		return true
	})
}

// Signals bundles the notifications emitted by the Motor actor.
type Signals struct {
	// StatusChanged is emitted whenever the status snapshot changes.
	StatusChanged *Signal
	// MovementStarted is emitted on a false-to-true transition of Moving.
	MovementStarted *Signal
	// MovementFinished is emitted on a true-to-false transition of Moving.
	MovementFinished *Signal
}

func newSignals() Signals {
	return Signals{
		StatusChanged:    newSignal(),
		MovementStarted:  newSignal(),
		MovementFinished: newSignal(),
	}
}
