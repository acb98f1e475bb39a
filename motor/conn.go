package motor

import (
	"fmt"
	"net"
	"time"

	"github.com/bapsf-motion/go-scl/scl"
)

// ackNackBit is the protocol word bit that makes the drive acknowledge every
// command. The actor depends on it and forces it on during configuration.
const ackNackBit = 2

// protocolBitNames describes the nine bits of the drive's protocol word, LSB
// first.
var protocolBitNames = [9]string{
	"Default ('Standard SCL')",
	"Always use Address Character",
	"Always return 'Ack/Nack'",
	"Checksum (RESERVED)",
	"(RESERVED)",
	"3-digit numeric register addressing",
	"Checksum Type (RESERVED)",
	"Little/Big Endian in Modbus mode",
	"Full Duplex in RS-422",
}

// Connect establishes the TCP connection to the drive and performs device
// configuration. When a live socket already exists it is validated against
// the configured address instead.
func (m *Motor) Connect() error {
	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	return m.connectLocked()
}

func (m *Motor) connectLocked() error {
	if m.conn != nil {
		if !m.connDead {
			peer := m.conn.RemoteAddr().String()
			if peer != m.cfg.Address() {
				m.logger.Error("socket connected to an unexpected peer",
					"peer", peer,
					"address", m.cfg.Address())
				return fmt.Errorf("%w: %s", ErrPeerMismatch, peer)
			}
			return nil
		}

		m.logger.Warn("socket appears dead, reconnecting")
		m.closeConnLocked()
	}

	addr := m.cfg.Address()
	attempts := m.cfg.MaxConnAttempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		m.logger.Info("connecting to drive",
			"address", addr,
			"attempt", attempt,
			"max_attempts", attempts)

		conn, err := net.DialTimeout("tcp", addr, m.cfg.ConnectTimeout())
		if err == nil {
			m.conn = conn
			m.connDead = false
			m.metrics.resetConnRetryGauge()
			m.setConnected(true)
			m.logger.Info("connected to drive", "address", addr)

			// a redial from inside the configuration sequence must not start
			// a second one
			if !m.configuring {
				m.configureLocked()
			}

			return nil
		}

		lastErr = err
		m.metrics.incConnRetryGauge()
		m.logger.Warn("connection attempt failed", "address", addr, "error", err)
	}

	m.setConnected(false)

	return fmt.Errorf("%w: %s: %v", ErrConnectFailed, addr, lastErr)
}

// closeConnLocked closes and forgets the socket without touching the status
// snapshot.
func (m *Motor) closeConnLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.connDead = false
}

// configureLocked brings a freshly connected drive into the actor's expected
// state: acknowledgements on every command, decimal immediate responses, the
// configured limit mode, stock speeds and currents. Configuration is best
// effort; a drive that drops mid-sequence is caught by the heartbeat.
func (m *Motor) configureLocked() {
	m.configuring = true
	defer func() { m.configuring = false }()

	m.readAndSetProtocolLocked()

	if _, err := m.rawRoundTripLocked("IFD"); err != nil {
		m.logger.Warn("unable to set immediate format decimal", "error", err)
	}

	_, _ = m.lockedIssue("define_limits", m.cfg.LimitMode())
	_, _ = m.lockedIssue("speed", DefaultSpeed)
	_, _ = m.lockedIssue("jog_speed", DefaultSpeed)
	_, _ = m.lockedIssue("set_current", m.cfg.Current())
	_, _ = m.lockedIssue("set_idle_current", DefaultIdleFraction)

	m.readParametersLocked()
}

// readAndSetProtocolLocked reads the drive's protocol word and, when the
// Ack/Nack bit is off, turns it on and re-reads. The resulting bit
// descriptions are recorded in Info.
func (m *Motor) readAndSetProtocolLocked() {
	res, err := m.lockedIssue("protocol")
	if err != nil || res.Failed() {
		m.logger.Warn("unable to read protocol word", "result", res.String())
		return
	}

	word, ok := res.Int()
	if !ok {
		return
	}

	if word&(1<<ackNackBit) == 0 {
		m.logger.Info("enabling Ack/Nack on every command",
			"protocol_word", word)

		if _, err := m.lockedIssue("protocol", word|(1<<ackNackBit)); err != nil {
			return
		}

		res, err = m.lockedIssue("protocol")
		if err != nil || res.Failed() {
			return
		}
		if word, ok = res.Int(); !ok {
			return
		}
	}

	settings := describeProtocolWord(word)

	m.stateMu.Lock()
	m.info.ProtocolSettings = settings
	m.stateMu.Unlock()
}

func describeProtocolWord(word int64) []string {
	var settings []string
	for bit, name := range protocolBitNames {
		if word&(int64(1)<<bit) != 0 {
			settings = append(settings, name)
		}
	}

	return settings
}

// readParametersLocked refreshes the drive parameters held in Info.
func (m *Motor) readParametersLocked() {
	var info Info

	if res, err := m.lockedIssue("gearing"); err == nil {
		info.Gearing, _ = res.Int()
	}
	if res, err := m.lockedIssue("encoder_resolution"); err == nil {
		info.EncoderResolution, _ = res.Int()
	}
	if res, err := m.lockedIssue("speed"); err == nil {
		info.Speed, _ = res.Float()
	}
	if res, err := m.lockedIssue("acceleration"); err == nil {
		info.Acceleration, _ = res.Float()
	}
	if res, err := m.lockedIssue("deceleration"); err == nil {
		info.Deceleration, _ = res.Float()
	}

	m.stateMu.Lock()
	info.Manufacturer = m.info.Manufacturer
	info.Model = m.info.Model
	info.ProtocolSettings = m.info.ProtocolSettings
	m.info = info
	m.stateMu.Unlock()
}

// sendLocked writes one framed command. A write failure marks the connection
// dead and triggers exactly one inline reconnect-and-resend; the resend is
// skipped while configuration itself is on the stack.
func (m *Motor) sendLocked(cmd string) error {
	if m.conn == nil || m.connDead {
		if err := m.connectLocked(); err != nil {
			return err
		}
	}

	err := m.writeFrameLocked(cmd)
	if err == nil {
		return nil
	}

	m.markDisconnectedLocked()
	if m.configuring {
		return err
	}

	m.logger.Error("unable to send command", "payload", cmd, "error", err)
	m.closeConnLocked()

	m.logger.Info("re-establishing connection to resend command", "payload", cmd)
	if err := m.connectLocked(); err != nil {
		return err
	}
	m.metrics.incReconnectCount()

	return m.writeFrameLocked(cmd)
}

func (m *Motor) writeFrameLocked(cmd string) error {
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.cfg.ReadTimeout()))
	return scl.WriteFrame(m.conn, cmd)
}

// recvLocked reads one reply frame. Any failure marks the connection dead.
func (m *Motor) recvLocked() (string, error) {
	if m.conn == nil {
		return "", scl.ErrConnectionLost
	}

	_ = m.conn.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout()))

	reply, err := scl.ReadFrame(m.conn)
	if err != nil {
		m.logger.Warn("lost connection while receiving reply", "error", err)
		m.markDisconnectedLocked()
		return "", err
	}

	m.logger.Debug("received reply", "reply", reply)

	return reply, nil
}

// rawRoundTripLocked exchanges a raw ASCII command without classification.
// It exists for drive directives that fall outside the command registry.
func (m *Motor) rawRoundTripLocked(cmd string) (string, error) {
	if err := m.sendLocked(cmd); err != nil {
		return "", err
	}

	return m.recvLocked()
}

func (m *Motor) markDisconnectedLocked() {
	m.connDead = true
	m.setConnected(false)
}
