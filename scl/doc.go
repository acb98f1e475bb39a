// Package scl implements the wire protocol spoken by Applied Motion style
// ethernet stepper drives (the "SCL" ASCII command language).
//
// It provides the static command registry mapping command names to wire
// mnemonics, argument encoders and response decoders (Lookup, EncodeCommand),
// the fixed message framing used over TCP (WriteFrame, ReadFrame), reply
// classification into ack/nack/data outcomes (Classify), and decoding of the
// drive's alarm and status words (DecodeAlarm, ParseStatusFlags).
//
// Every message on the wire is the two byte header 0x00 0x07, followed by the
// ASCII command or reply, terminated by a carriage return (0x0D).
//
// Wire level outcomes are values, not errors: a negative acknowledgement from
// the drive is a Result with StatusNack, never a Go error. Errors are reserved
// for transport failures and local precondition violations.
package scl
