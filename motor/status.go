package motor

// DeviceStatus is the last-known snapshot of the drive state. It is owned
// exclusively by the actor; Status returns a copy and external readers never
// mutate it.
type DeviceStatus struct {
	// Connected reports whether the TCP connection to the drive is established.
	Connected bool
	// Position is the last read immediate position, in steps.
	Position int64
	// Alarm reports whether any alarm is raised; AlarmMessage carries the
	// decoded alarm summary.
	Alarm        bool
	AlarmMessage string

	Enabled          bool
	Fault            bool
	Moving           bool
	Homing           bool
	Jogging          bool
	MotionInProgress bool
	InPosition       bool
	Stopping         bool
	Waiting          bool

	// CWLimit and CCWLimit report active end-of-travel limit switches.
	CWLimit  bool
	CCWLimit bool
}

// Status returns a copy of the current drive status snapshot.
func (m *Motor) Status() DeviceStatus {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	return m.status
}

// Connected reports whether the TCP connection to the drive is established.
func (m *Motor) Connected() bool {
	return m.Status().Connected
}

// IsMoving reports whether the drive reports active movement.
func (m *Motor) IsMoving() bool {
	return m.Status().Moving
}

// updateStatus applies mutate to a copy of the status snapshot and installs
// it. StatusChanged is emitted only when the snapshot actually changed, after
// the state lock is released.
func (m *Motor) updateStatus(mutate func(*DeviceStatus)) {
	m.stateMu.Lock()
	old := m.status
	next := old
	mutate(&next)
	changed := next != old
	if changed {
		m.status = next
	}
	m.stateMu.Unlock()

	if changed {
		m.signals.StatusChanged.Emit()
	}
}

// setConnected records the connection state in the status snapshot.
func (m *Motor) setConnected(connected bool) {
	m.updateStatus(func(st *DeviceStatus) { st.Connected = connected })
}
