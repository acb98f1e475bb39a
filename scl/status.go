package scl

// StatusFlags is the decoded form of the drive's status-letter reply (RS).
type StatusFlags struct {
	Alarm            bool
	Enabled          bool
	Fault            bool
	Moving           bool
	Homing           bool
	Jogging          bool
	MotionInProgress bool
	InPosition       bool
	Stopping         bool
	Waiting          bool
}

// ParseStatusFlags maps each status letter of an RS reply to its named flag.
//
//	A alarm, D disabled, E fault, F moving, H homing, J jogging,
//	M motion in progress, P in position, R enabled, S stopping,
//	T/W waiting. Unknown letters are ignored.
func ParseStatusFlags(letters string) StatusFlags {
	var flags StatusFlags
	for _, letter := range letters {
		switch letter {
		case 'A':
			flags.Alarm = true
		case 'D':
			flags.Enabled = false
		case 'R':
			flags.Enabled = true
		case 'E':
			flags.Fault = true
		case 'F':
			flags.Moving = true
		case 'H':
			flags.Homing = true
		case 'J':
			flags.Jogging = true
		case 'M':
			flags.MotionInProgress = true
		case 'P':
			flags.InPosition = true
		case 'S':
			flags.Stopping = true
		case 'T', 'W':
			flags.Waiting = true
		}
	}

	return flags
}
