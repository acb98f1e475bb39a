package motor

import (
	"fmt"
	"math"

	"github.com/bapsf-motion/go-scl/scl"
)

// maxMoveOffLimitAttempts bounds how many half-revolution nudges MoveOffLimit
// tries before giving up.
const maxMoveOffLimitAttempts = 10

// runCompound dispatches a compound operation to its handler. Compound
// operations run on the calling goroutine and feed their primitives through
// issue, so the same handler serves external callers, the heartbeat and the
// configuration sequence.
func (m *Motor) runCompound(name string, issue issuer, args []any) (scl.Result, error) {
	switch name {
	case "move_to":
		pos, err := argInt(name, args, 0)
		if err != nil {
			return scl.Result{}, err
		}
		return m.moveTo(issue, pos)

	case "move_off_limit":
		return m.moveOffLimit(issue)

	case "continuous_jog":
		direction := "forward"
		if len(args) > 0 {
			s, ok := args[0].(string)
			if !ok {
				return scl.Result{}, fmt.Errorf(
					"%w: %s direction must be a string, got %T",
					ErrInvalidArgument, name, args[0])
			}
			direction = s
		}
		return m.continuousJog(issue, direction)

	case "retrieve_motor_status":
		return m.refreshStatus(issue)

	case "retrieve_motor_alarm":
		return m.refreshAlarm(issue, false)

	case "set_current":
		fraction, err := argFloat(name, args, 0)
		if err != nil {
			return scl.Result{}, err
		}
		return m.setCurrent(issue, fraction)

	case "set_idle_current":
		fraction, err := argFloat(name, args, 0)
		if err != nil {
			return scl.Result{}, err
		}
		return m.setIdleCurrent(issue, fraction)

	case "reset_currents":
		return m.resetCurrents(issue)

	case "set_position":
		pos, err := argInt(name, args, 0)
		if err != nil {
			return scl.Result{}, err
		}
		return m.setPosition(issue, pos)

	case "zero":
		return m.setPosition(issue, 0)

	default:
		return scl.Result{}, fmt.Errorf("%w: %q has no compound handler",
			scl.ErrUnknownCommand, name)
	}
}

// moveable reports whether the drive may start a move. A moving drive never
// may. An alarmed drive gets one alarm reset and re-read; it may move only if
// the remaining alarm is clear or is a lone limit-switch trip.
func (m *Motor) moveable(issue issuer) (bool, error) {
	if m.IsMoving() {
		m.logger.Warn("drive is already moving, refusing motion command")
		return false, nil
	}

	if !m.Status().Alarm {
		return true, nil
	}

	res, err := m.refreshAlarm(issue, false)
	if err != nil {
		return false, err
	}
	if res.Failed() {
		return false, nil
	}

	alarm, _ := res.Value.(scl.Alarm)
	if !alarm.Active() {
		return true, nil
	}

	m.logger.Info("alarm persists after reset", "alarms", alarm.Message())

	if len(alarm.Messages) > 1 {
		return false, nil
	}
	if len(alarm.Messages) == 1 && !alarm.OnLimit() {
		return false, nil
	}

	return true, nil
}

// moveTo enables the drive, sets the absolute target and commences the move,
// finishing with a status refresh.
func (m *Motor) moveTo(issue issuer, pos int64) (scl.Result, error) {
	ok, err := m.moveable(issue)
	if err != nil {
		return scl.Result{}, err
	}
	if !ok {
		st := m.Status()
		m.logger.Error("drive is not in a moveable state",
			"alarm", st.AlarmMessage,
			"moving", st.Moving)
		return scl.Result{}, ErrNotMoveable
	}

	if st := m.Status(); st.Alarm {
		delta := pos - st.Position
		if delta > 0 && st.CWLimit {
			m.logger.Warn("drive can not move forward, currently on the CW limit")
		} else if delta < 0 && st.CCWLimit {
			m.logger.Warn("drive can not move backward, currently on the CCW limit")
		}
	}

	if _, err := issue("enable"); err != nil {
		return scl.Result{}, err
	}
	if _, err := issue("target_distance", pos); err != nil {
		return scl.Result{}, err
	}
	if _, err := issue("feed"); err != nil {
		return scl.Result{}, err
	}

	return m.refreshStatus(issue)
}

// moveOffLimit nudges the drive half a revolution away from an active limit
// switch, waits for the move to settle and re-reads the alarm, repeating up
// to maxMoveOffLimitAttempts times. If the position does not budge the
// direction is flipped once.
func (m *Motor) moveOffLimit(issue issuer) (scl.Result, error) {
	res, err := m.refreshAlarm(issue, false)
	if err != nil {
		return scl.Result{}, err
	}
	if res.Failed() {
		return res, nil
	}

	alarm, _ := res.Value.(scl.Alarm)
	if !alarm.Active() || !alarm.OnLimit() {
		m.logger.Info("drive is not on a limit switch, nothing to do")
		return scl.Result{Status: scl.StatusAck}, nil
	}

	// Nudge away from the tripped side.
	offDir := int64(1)
	if alarm.CWLimit {
		offDir = -1
	}

	hr := m.cfg.HeartRate()
	switched := false
	onLimit := true

	for attempt := 1; attempt <= maxMoveOffLimitAttempts && onLimit; attempt++ {
		posRes, err := issue("get_position")
		if err != nil {
			return scl.Result{}, err
		}
		pos, ok := posRes.Int()
		if !ok {
			if posRes.Lost() {
				return posRes, nil
			}
			continue
		}

		target := pos + offDir*m.stepsPerRev()/2
		m.logger.Info("moving off limit switch",
			"attempt", attempt,
			"position", pos,
			"target", target)

		if _, err := m.moveTo(issue, target); err != nil {
			m.logger.Warn("nudge off limit refused", "error", err)
		}

		// Let the move start, then poll until it settles.
		m.sleep(2 * hr.Active)
		for m.IsMoving() && m.ctx.Err() == nil {
			m.sleep(hr.Active)
		}

		alarmRes, err := m.refreshAlarm(issue, true)
		if err != nil {
			return scl.Result{}, err
		}
		if alarmRes.Failed() {
			return alarmRes, nil
		}
		alarm, _ = alarmRes.Value.(scl.Alarm)
		onLimit = alarm.OnLimit()

		curRes, err := issue("get_position")
		if err != nil {
			return scl.Result{}, err
		}
		if cur, ok := curRes.Int(); ok && cur == pos && onLimit {
			if switched {
				m.logger.Warn("unable to move off limit in either direction")
				break
			}
			offDir = -offDir
			switched = true
		}
	}

	if onLimit {
		return scl.Result{}, ErrMoveOffLimit
	}

	_, _ = m.refreshAlarm(issue, false)

	return scl.Result{Status: scl.StatusAck}, nil
}

// continuousJog starts jogging in the given direction until stopped.
func (m *Motor) continuousJog(issue issuer, direction string) (scl.Result, error) {
	var dir int64
	switch direction {
	case "forward":
		dir = 1
	case "backward":
		dir = -1
	default:
		return scl.Result{}, fmt.Errorf(
			"%w: jog direction must be %q or %q, got %q",
			ErrInvalidArgument, "forward", "backward", direction)
	}

	ok, err := m.moveable(issue)
	if err != nil {
		return scl.Result{}, err
	}
	if !ok {
		m.logger.Error("drive is not in a moveable state, refusing jog")
		return scl.Result{}, ErrNotMoveable
	}

	if st := m.Status(); st.Alarm {
		if dir > 0 && st.CWLimit {
			m.logger.Warn("drive can not jog forward, currently on the CW limit")
		} else if dir < 0 && st.CCWLimit {
			m.logger.Warn("drive can not jog backward, currently on the CCW limit")
		}
	}

	if _, err := issue("enable"); err != nil {
		return scl.Result{}, err
	}
	if _, err := issue("target_distance", dir); err != nil {
		return scl.Result{}, err
	}

	return issue("commence_jogging")
}

// setCurrent sets the running current to fraction * MaxCurrentAmps and lowers
// the idle current when it would exceed MaxIdleFraction of the new running
// current.
func (m *Motor) setCurrent(issue issuer, fraction float64) (scl.Result, error) {
	if fraction <= 0 || fraction > 1 {
		return scl.Result{}, fmt.Errorf(
			"%w: current fraction %v out of range (0, 1]",
			ErrInvalidArgument, fraction)
	}

	current := fraction * MaxCurrentAmps

	idleRes, err := issue("idle_current")
	if err != nil {
		return scl.Result{}, err
	}
	idle, ok := idleRes.Float()
	if !ok {
		m.logger.Error("unable to read idle current, current unchanged",
			"result", idleRes.String())
		return idleRes, nil
	}

	idle = math.Min(MaxIdleFraction*current, idle)

	if res, err := issue("current", current); err != nil || res.Failed() {
		return res, err
	}

	return issue("idle_current", idle)
}

// setIdleCurrent sets the idle current to fraction of the running current,
// clamping the fraction to MaxIdleFraction.
func (m *Motor) setIdleCurrent(issue issuer, fraction float64) (scl.Result, error) {
	if fraction < 0 {
		return scl.Result{}, fmt.Errorf(
			"%w: idle current fraction %v must not be negative",
			ErrInvalidArgument, fraction)
	}
	if fraction > MaxIdleFraction {
		m.logger.Warn("idle current fraction clamped",
			"requested", fraction,
			"max", MaxIdleFraction)
		fraction = MaxIdleFraction
	}

	curRes, err := issue("current")
	if err != nil {
		return scl.Result{}, err
	}
	current, ok := curRes.Float()
	if !ok {
		m.logger.Error("unable to read running current, idle current unchanged",
			"result", curRes.String())
		return curRes, nil
	}

	return issue("idle_current", fraction*current)
}

// resetCurrents restores the configured running current and the default idle
// current.
func (m *Motor) resetCurrents(issue issuer) (scl.Result, error) {
	current := m.cfg.Current() * MaxCurrentAmps

	if res, err := issue("current", current); err != nil || res.Failed() {
		return res, err
	}

	return issue("idle_current", DefaultIdleFraction*current)
}

// setPosition redefines the drive's current location as pos steps. The drive
// only accepts the redefinition at full torque, so the currents are raised to
// maximum for the write and restored afterwards, along with the enable state.
func (m *Motor) setPosition(issue issuer, pos int64) (scl.Result, error) {
	idleRes, err := issue("idle_current")
	if err != nil {
		return scl.Result{}, err
	}
	idle, ok := idleRes.Float()
	if !ok {
		m.logger.Error("unable to read idle current, position unchanged",
			"result", idleRes.String())
		return idleRes, nil
	}

	curRes, err := issue("current")
	if err != nil {
		return scl.Result{}, err
	}
	current, ok := curRes.Float()
	if !ok {
		m.logger.Error("unable to read running current, position unchanged",
			"result", curRes.String())
		return curRes, nil
	}

	enabled := m.Status().Enabled

	if _, err := issue("enable"); err != nil {
		return scl.Result{}, err
	}
	if _, err := m.setCurrent(issue, 1); err != nil {
		return scl.Result{}, err
	}
	if _, err := m.setIdleCurrent(issue, MaxIdleFraction); err != nil {
		return scl.Result{}, err
	}

	if res, err := issue("encoder_position", pos); err != nil || res.Failed() {
		m.logger.Error("unable to redefine encoder position", "result", res.String())
	}
	res, err := issue("set_position_SP", pos)
	if err != nil {
		return scl.Result{}, err
	}

	if _, err := issue("current", current); err != nil {
		return res, err
	}
	if _, err := issue("idle_current", idle); err != nil {
		return res, err
	}
	if !enabled {
		if _, err := issue("disable"); err != nil {
			return res, err
		}
	}

	m.updateStatus(func(st *DeviceStatus) { st.Position = pos })

	return res, nil
}

// refreshStatus polls the drive's status letters, position and alarm register
// and folds them into the status snapshot. Movement transitions emit
// MovementStarted or MovementFinished before the generic StatusChanged.
func (m *Motor) refreshStatus(issue issuer) (scl.Result, error) {
	res, err := issue("request_status")
	if err != nil {
		return scl.Result{}, err
	}
	if res.Lost() {
		return res, nil
	}

	var flags scl.StatusFlags
	haveFlags := false
	if letters, ok := res.Str(); ok {
		flags = scl.ParseStatusFlags(letters)
		haveFlags = true
	}

	posRes, err := issue("get_position")
	if err != nil {
		return scl.Result{}, err
	}
	if posRes.Lost() {
		return posRes, nil
	}
	pos, havePos := posRes.Int()

	alarmRes, err := m.refreshAlarm(issue, true)
	if err != nil {
		return scl.Result{}, err
	}
	if alarmRes.Lost() {
		return alarmRes, nil
	}
	alarm, haveAlarm := alarmRes.Value.(scl.Alarm)

	m.stateMu.Lock()
	old := m.status
	next := old

	if haveFlags {
		next.Alarm = flags.Alarm
		next.Enabled = flags.Enabled
		next.Fault = flags.Fault
		next.Moving = flags.Moving
		next.Homing = flags.Homing
		next.Jogging = flags.Jogging
		next.MotionInProgress = flags.MotionInProgress
		next.InPosition = flags.InPosition
		next.Stopping = flags.Stopping
		next.Waiting = flags.Waiting
	}
	if havePos {
		next.Position = pos
	}
	if haveAlarm {
		next.Alarm = alarm.Active()
		next.AlarmMessage = alarm.Message()
		next.CWLimit = alarm.CWLimit
		next.CCWLimit = alarm.CCWLimit
	}

	started := haveFlags && next.Moving && !old.Moving
	finished := haveFlags && !next.Moving && old.Moving
	changed := next != old
	if changed {
		m.status = next
	}
	m.stateMu.Unlock()

	if started {
		m.signals.MovementStarted.Emit()
	}
	if finished {
		m.signals.MovementFinished.Emit()
	}
	if changed {
		m.signals.StatusChanged.Emit()
	}

	return res, nil
}

// refreshAlarm resets the drive's alarm latch, re-reads the alarm register
// and decodes it. With deferUpdate the snapshot is left untouched so the
// caller can fold the alarm into a larger update. On success the returned
// Result carries the decoded scl.Alarm as its Value.
func (m *Motor) refreshAlarm(issue issuer, deferUpdate bool) (scl.Result, error) {
	if _, err := issue("alarm_reset"); err != nil {
		return scl.Result{}, err
	}

	res, err := issue("alarm")
	if err != nil {
		return scl.Result{}, err
	}
	if res.Failed() {
		return res, nil
	}

	code, _ := res.Str()
	alarm, decodeErr := scl.DecodeAlarm(code)
	if decodeErr != nil {
		m.logger.Error("unable to decode alarm register",
			"code", code,
			"error", decodeErr)
		return scl.Result{Status: scl.StatusMalformed}, nil
	}

	if alarm.Active() {
		m.logger.Error("drive raised alarm(s)", "alarms", alarm.Message())
	}

	if !deferUpdate {
		m.updateStatus(func(st *DeviceStatus) {
			st.Alarm = alarm.Active()
			st.AlarmMessage = alarm.Message()
			st.CWLimit = alarm.CWLimit
			st.CCWLimit = alarm.CCWLimit
		})
	}

	return scl.Result{Status: scl.StatusData, Value: alarm}, nil
}

func argInt(name string, args []any, idx int) (int64, error) {
	if len(args) <= idx {
		return 0, fmt.Errorf("%w: %s requires a position argument",
			ErrInvalidArgument, name)
	}

	switch v := args[idx].(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == math.Trunc(v) {
			return int64(v), nil
		}
	}

	return 0, fmt.Errorf("%w: %s requires an integer, got %T",
		ErrInvalidArgument, name, args[idx])
}

func argFloat(name string, args []any, idx int) (float64, error) {
	if len(args) <= idx {
		return 0, fmt.Errorf("%w: %s requires a fraction argument",
			ErrInvalidArgument, name)
	}

	switch v := args[idx].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}

	return 0, fmt.Errorf("%w: %s requires a number, got %T",
		ErrInvalidArgument, name, args[idx])
}
