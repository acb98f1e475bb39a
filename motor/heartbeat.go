package motor

import (
	"time"

	"github.com/bapsf-motion/go-scl/scl"
)

// heartbeatCycle performs one heartbeat: a full status refresh while
// connected, or a kill command while disconnected. The kill doubles as the
// reconnect probe, since the send path re-establishes the connection, and it
// guarantees the drive is stopped with an empty command queue the moment it
// comes back online.
func (m *Motor) heartbeatCycle() {
	if m.hbPaused.Load() {
		return
	}

	m.metrics.incHeartbeatCount()

	if !m.Connected() {
		m.logger.Info("drive connection lost, trying to reconnect")

		if spec, err := scl.Lookup("kill"); err == nil {
			m.execPrimitive(spec, nil)
		}

		return
	}

	if _, err := m.refreshStatus(m.directIssue); err != nil {
		m.logger.Error("heartbeat status refresh failed", "error", err)
	}
}

// heartbeatInterval selects the polling interval from the current actor
// state, by priority Paused > Searching > Active > Base.
func (m *Motor) heartbeatInterval() time.Duration {
	hr := m.cfg.HeartRate()

	switch {
	case m.hbPaused.Load():
		return hr.Paused
	case !m.Connected():
		return hr.Searching
	case m.IsMoving():
		return hr.Active
	default:
		return hr.Base
	}
}
