package scl

import (
	"fmt"
	"strings"
)

// alarmMessages maps weighted alarm sub-codes to their descriptive messages.
// The table is specific to STM series drives.
var alarmMessages = map[int]string{
	1:    "position limit [Drive Fault]",
	2:    "CCW limit",
	4:    "CW limit",
	8:    "over temp [Drive Fault]",
	10:   "internal voltage [Drive Fault]",
	20:   "over voltage [Drive Fault]",
	40:   "under voltage",
	80:   "over current [Drive Fault]",
	100:  "open motor winding [Drive Fault]",
	400:  "common error",
	800:  "bad flash",
	1000: "no move",
	4000: "blank Q segment",
}

// Alarm limit sub-codes.
const (
	subCodeCCWLimit = 2
	subCodeCWLimit  = 4
)

// Alarm is the decoded content of the drive's 4-digit alarm register.
type Alarm struct {
	// Code is the raw 4-digit register value.
	Code string
	// SubCodes holds the non-zero weighted sub-codes, digit * 10^(3-i) for
	// digit i of the register.
	SubCodes []int
	// Messages holds the descriptive message of each known sub-code; unknown
	// sub-codes are dropped.
	Messages []string
	// CCWLimit and CWLimit report whether the corresponding end-of-travel
	// limit sub-code is active.
	CCWLimit bool
	CWLimit  bool
}

// Active reports whether any alarm is raised.
func (a Alarm) Active() bool { return a.Code != "0000" }

// OnLimit reports whether either end-of-travel limit is active.
func (a Alarm) OnLimit() bool { return a.CCWLimit || a.CWLimit }

// LimitOnly reports whether the alarm consists of exactly one known sub-code
// and that sub-code is a CW or CCW limit. Movement gating treats this as a
// recoverable condition.
func (a Alarm) LimitOnly() bool {
	return len(a.Messages) == 1 && a.OnLimit()
}

// Message returns the human readable alarm summary used in logs.
func (a Alarm) Message() string {
	parts := make([]string, 0, len(a.SubCodes))
	for _, code := range a.SubCodes {
		if msg, ok := alarmMessages[code]; ok {
			parts = append(parts, fmt.Sprintf("%04d - %s", code, msg))
		}
	}

	return strings.Join(parts, " :: ")
}

// DecodeAlarm decodes the 4-digit alarm register into its weighted sub-codes.
// Each digit i contributes digit * 10^(3-i); unknown sub-codes are kept in
// SubCodes but dropped from Messages.
func DecodeAlarm(code string) (Alarm, error) {
	if len(code) != 4 {
		return Alarm{}, fmt.Errorf("%w: %q", ErrInvalidAlarmCode, code)
	}

	alarm := Alarm{Code: code}
	weight := 1000
	for _, digit := range code {
		if digit < '0' || digit > '9' {
			return Alarm{}, fmt.Errorf("%w: %q", ErrInvalidAlarmCode, code)
		}

		sub := int(digit-'0') * weight
		weight /= 10
		if sub == 0 {
			continue
		}

		alarm.SubCodes = append(alarm.SubCodes, sub)
		switch sub {
		case subCodeCCWLimit:
			alarm.CCWLimit = true
		case subCodeCWLimit:
			alarm.CWLimit = true
		}
		if msg, ok := alarmMessages[sub]; ok {
			alarm.Messages = append(alarm.Messages, msg)
		}
	}

	return alarm, nil
}
