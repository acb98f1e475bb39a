package scl

import "errors"

var (
	// ErrUnknownCommand indicates that a command name does not exist in the
	// command registry.
	ErrUnknownCommand = errors.New("scl: unknown command")

	// ErrConnectionLost indicates that the peer closed the connection before a
	// complete reply was received.
	ErrConnectionLost = errors.New("scl: connection lost")

	// ErrInvalidAlarmCode indicates that an alarm register reply is not a
	// 4-digit code.
	ErrInvalidAlarmCode = errors.New("scl: invalid alarm code")
)
