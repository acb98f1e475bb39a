package motor

import "errors"

var (
	// ErrTerminated indicates the actor has been terminated and accepts no
	// further commands.
	ErrTerminated = errors.New("motor: actor terminated")

	// ErrDispatchTimeout indicates a cross-goroutine Send call exceeded its
	// wall-clock budget. The in-flight wire operation is not cancelled.
	ErrDispatchTimeout = errors.New("motor: command dispatch timed out")

	// ErrConnectFailed indicates all connection attempts were exhausted.
	ErrConnectFailed = errors.New("motor: connection to drive could not be established")

	// ErrPeerMismatch indicates the live socket is connected to a peer other
	// than the configured address.
	ErrPeerMismatch = errors.New("motor: socket peer does not match configured address")

	// ErrNotMoveable indicates the drive refused a motion command because it
	// is already moving or holds a non-limit alarm.
	ErrNotMoveable = errors.New("motor: drive is not in a moveable state")

	// ErrMoveOffLimit indicates the drive could not be moved off an active
	// limit switch.
	ErrMoveOffLimit = errors.New("motor: unable to move off limit switch")

	// ErrInvalidArgument indicates a compound operation was invoked with an
	// argument outside its valid range.
	ErrInvalidArgument = errors.New("motor: invalid command argument")
)
