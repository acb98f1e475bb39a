package scl

import "fmt"

// AckStatus classifies the outcome of a single wire round trip.
type AckStatus uint8

const (
	// StatusData indicates the drive replied with a decoded data payload.
	StatusData AckStatus = iota
	// StatusAck indicates the drive acknowledged and executed the command ("%").
	StatusAck
	// StatusAckQueued indicates the drive acknowledged the command and buffered
	// it into its command queue ("*").
	StatusAckQueued
	// StatusNack indicates the drive rejected the command ("?" with an error code).
	StatusNack
	// StatusLostConnection indicates the TCP connection was lost during the exchange.
	StatusLostConnection
	// StatusMalformed indicates the reply could not be matched to the command.
	StatusMalformed
)

// String returns the string representation of the status.
func (s AckStatus) String() string {
	switch s {
	case StatusData:
		return "data"
	case StatusAck:
		return "ack"
	case StatusAckQueued:
		return "ack-queued"
	case StatusNack:
		return "nack"
	case StatusLostConnection:
		return "lost-connection"
	case StatusMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Unit tags a decoded value with the motor-native unit it is expressed in.
// Units are opaque identifiers; no unit conversion is performed here.
type Unit string

const (
	UnitNone         Unit = ""
	UnitSteps        Unit = "steps"
	UnitCounts       Unit = "counts"
	UnitRevPerSec    Unit = "rev/s"
	UnitRevPerSecSq  Unit = "rev/s^2"
	UnitStepsPerRev  Unit = "steps/rev"
	UnitCountsPerRev Unit = "counts/rev"
)

// Result is the outcome of one primitive command exchange. It is always
// returned by value; wire level failures never surface as Go errors.
//
// On the success arm Status is StatusData, StatusAck or StatusAckQueued.
// Value holds the decoded payload (int64, float64 or string) for StatusData
// and is nil otherwise. NackCode is set only for StatusNack.
type Result struct {
	Status   AckStatus
	NackCode int
	Value    any
	Unit     Unit
}

// Ok reports whether the exchange succeeded (data, ack or queued ack).
func (r Result) Ok() bool {
	return r.Status == StatusData || r.Status == StatusAck || r.Status == StatusAckQueued
}

// Failed reports whether the exchange failed.
func (r Result) Failed() bool { return !r.Ok() }

// Lost reports whether the connection was lost during the exchange.
func (r Result) Lost() bool { return r.Status == StatusLostConnection }

// Int returns the decoded payload as an int64. The second return value is
// false if the result carries no integer payload.
func (r Result) Int() (int64, bool) {
	switch v := r.Value.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns the decoded payload as a float64. The second return value is
// false if the result carries no numeric payload.
func (r Result) Float() (float64, bool) {
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Str returns the decoded payload as a string. The second return value is
// false if the result carries no string payload.
func (r Result) Str() (string, bool) {
	v, ok := r.Value.(string)
	return v, ok
}

// String implements fmt.Stringer for log output.
func (r Result) String() string {
	switch r.Status {
	case StatusData:
		if r.Unit != UnitNone {
			return fmt.Sprintf("data(%v %s)", r.Value, r.Unit)
		}
		return fmt.Sprintf("data(%v)", r.Value)
	case StatusNack:
		return fmt.Sprintf("nack(%d - %s)", r.NackCode, NackMessage(r.NackCode))
	default:
		return r.Status.String()
	}
}

// nackMessages maps drive Nack codes to their descriptive messages.
var nackMessages = map[int]string{
	1:  "command timed out",
	2:  "parameter is too long",
	3:  "too few parameters",
	4:  "too many parameters",
	5:  "parameters out of range",
	6:  "command buffer (queue) full",
	7:  "cannot process command",
	8:  "program running",
	9:  "bad password",
	10: "comm port error",
	11: "bad character",
	12: "I/O point already used by current command mode, and cannot be changed (Flex I/O drives only)",
	13: "I/O point configured for incorrect use (i.e., input vs. output) (Flex I/O drives only)",
	14: "I/O point cannot be used for requested function - see HW manual for possible I/O function assignments. (Flex I/O drives only)",
}

// NackMessage returns the descriptive message for a drive Nack code.
func NackMessage(code int) string {
	if msg, ok := nackMessages[code]; ok {
		return msg
	}
	return "unknown error code"
}
