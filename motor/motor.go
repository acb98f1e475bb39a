package motor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bapsf-motion/go-scl/internal/pool"
	"github.com/bapsf-motion/go-scl/logger"
	"github.com/bapsf-motion/go-scl/scl"
)

// defaultStepsPerRev is the electronic gearing assumed until the drive's
// actual gearing has been read.
const defaultStepsPerRev = 20000

// Info holds the drive parameters read during device configuration.
type Info struct {
	Manufacturer      string
	Model             string
	Gearing           int64
	EncoderResolution int64
	Speed             float64
	Acceleration      float64
	Deceleration      float64
	// ProtocolSettings describes the enabled bits of the drive's protocol word.
	ProtocolSettings []string
}

// Motor is the communication actor for a single ethernet stepper drive.
//
// A single executor goroutine owns the socket; cross-goroutine Send calls are
// bridged to it over a request channel, while executor-resident code (the
// heartbeat) issues primitives directly. Before Run or after Terminate, Send
// executes on the caller's goroutine.
type Motor struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg    *Config
	logger logger.Logger

	// wireMu serializes every wire exchange. All socket state below it is
	// guarded by it.
	wireMu      sync.Mutex
	conn        net.Conn
	connDead    bool
	configuring bool

	// stateMu guards the status snapshot and the drive parameters.
	stateMu sync.RWMutex
	status  DeviceStatus
	info    Info

	signals Signals
	metrics Metrics

	reqChan    chan *request
	running    atomic.Bool
	terminated atomic.Bool
	hbPaused   atomic.Bool
	wg         sync.WaitGroup
}

// New creates a motor actor from cfg. The actor is idle until Run is called;
// commands sent before that execute directly on the caller's goroutine.
func New(ctx context.Context, cfg *Config) (*Motor, error) {
	if cfg == nil {
		return nil, errConfigNil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)

	l := cfg.Logger()
	if name := cfg.Name(); name != "" {
		l = l.With("motor", name)
	}

	m := &Motor{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		logger:  l,
		signals: newSignals(),
		reqChan: make(chan *request),
	}
	m.info.Manufacturer = "Applied Motion Products"
	m.info.Model = "STM23S-3EE"

	return m, nil
}

// Name returns the configured motor name.
func (m *Motor) Name() string {
	return m.cfg.Name()
}

// Config returns the serializable snapshot of the actor configuration.
func (m *Motor) Config() Snapshot {
	return m.cfg.Snapshot()
}

// Signals returns the notification signals of the actor.
func (m *Motor) Signals() *Signals {
	return &m.signals
}

// Metrics returns the metrics counters of the actor.
func (m *Motor) Metrics() *Metrics {
	return &m.metrics
}

// Info returns a copy of the drive parameters read during configuration.
func (m *Motor) Info() Info {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	info := m.info
	info.ProtocolSettings = append([]string(nil), m.info.ProtocolSettings...)

	return info
}

// Run connects to the drive, performs an initial status refresh and starts
// the executor goroutine with its heartbeat. It is a no-op when the actor is
// already running.
func (m *Motor) Run() error {
	if m.terminated.Load() {
		return ErrTerminated
	}
	if m.running.Load() {
		return nil
	}

	if err := m.Connect(); err != nil {
		m.logger.Warn("unable to connect to drive on startup", "error", err)
		return err
	}

	_, _ = m.refreshStatus(m.directIssue)

	m.wg.Add(1)
	go m.executorLoop()
	m.running.Store(true)

	m.logger.Info("motor actor running", "address", m.cfg.Address())

	return nil
}

// Terminate stops the drive, shuts down the executor goroutine and closes the
// socket. With delayLoopStop set, the executor goroutine is signalled but not
// awaited. Terminate is idempotent.
func (m *Motor) Terminate(delayLoopStop bool) {
	m.logger.Info("terminating motor actor")

	m.signals.StatusChanged.DisconnectAll()
	m.signals.MovementStarted.DisconnectAll()
	m.signals.MovementFinished.DisconnectAll()

	if !m.terminated.Load() && m.Connected() {
		_ = m.Stop(false)
		_ = m.Disable()
	}

	m.terminated.Store(true)
	m.running.Store(false)
	m.cancel()

	if !delayLoopStop {
		m.wg.Wait()
	}

	m.wireMu.Lock()
	m.closeConnLocked()
	m.wireMu.Unlock()
}

// Position returns the drive position in steps. While the heartbeat is live
// the cached snapshot is returned; otherwise the position is read from the
// drive.
func (m *Motor) Position() (int64, error) {
	if m.running.Load() && !m.hbPaused.Load() {
		return m.Status().Position, nil
	}

	res, err := m.Send("get_position")
	if err != nil {
		return 0, err
	}

	pos, ok := res.Int()
	if !ok {
		return 0, fmt.Errorf("motor: unable to read position, drive replied %s", res.String())
	}

	m.updateStatus(func(st *DeviceStatus) { st.Position = pos })

	return pos, nil
}

// MoveTo moves the drive to the given absolute position in steps.
func (m *Motor) MoveTo(pos int64) error {
	_, err := m.Send("move_to", pos)
	return err
}

// MoveOffLimit backs the drive off an active limit switch.
func (m *Motor) MoveOffLimit() error {
	_, err := m.Send("move_off_limit")
	return err
}

// ContinuousJog starts jogging in the given direction, "forward" or
// "backward".
func (m *Motor) ContinuousJog(direction string) error {
	_, err := m.Send("continuous_jog", direction)
	return err
}

// Stop halts movement. A soft stop decelerates; a hard stop kills movement
// immediately and flushes the drive's command queue.
func (m *Motor) Stop(soft bool) error {
	_, err := m.Send("stop", soft)
	return err
}

// Enable energizes the drive and refreshes the status snapshot.
func (m *Motor) Enable() error {
	if _, err := m.Send("enable"); err != nil {
		return err
	}
	_, err := m.Send("retrieve_motor_status")

	return err
}

// Disable de-energizes the drive and refreshes the status snapshot.
func (m *Motor) Disable() error {
	if _, err := m.Send("disable"); err != nil {
		return err
	}
	_, err := m.Send("retrieve_motor_status")

	return err
}

// SetCurrent sets the running current as a fraction (0, 1] of MaxCurrentAmps,
// lowering the idle current when needed to keep it within MaxIdleFraction of
// the new running current.
func (m *Motor) SetCurrent(fraction float64) error {
	_, err := m.Send("set_current", fraction)
	return err
}

// SetIdleCurrent sets the idle current as a fraction [0, MaxIdleFraction] of
// the running current.
func (m *Motor) SetIdleCurrent(fraction float64) error {
	_, err := m.Send("set_idle_current", fraction)
	return err
}

// ResetCurrents restores the configured running current and the default idle
// current.
func (m *Motor) ResetCurrents() error {
	_, err := m.Send("reset_currents")
	return err
}

// SetPosition redefines the drive's current location as pos steps.
func (m *Motor) SetPosition(pos int64) error {
	_, err := m.Send("set_position", pos)
	return err
}

// Zero redefines the drive's current location as position zero.
func (m *Motor) Zero() error {
	_, err := m.Send("zero")
	return err
}

// PauseHeartbeat quiesces the heartbeat; the loop keeps ticking at the Paused
// interval but performs no wire traffic.
func (m *Motor) PauseHeartbeat() {
	m.hbPaused.Store(true)
	m.logger.Info("heartbeat paused")
}

// ResumeHeartbeat re-enables a paused heartbeat.
func (m *Motor) ResumeHeartbeat() {
	m.hbPaused.Store(false)
	m.logger.Info("heartbeat resumed")
}

// stepsPerRev returns the drive's electronic gearing, falling back to the
// stock value when the gearing has not been read yet.
func (m *Motor) stepsPerRev() int64 {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	if m.info.Gearing > 0 {
		return m.info.Gearing
	}

	return defaultStepsPerRev
}

// sleep waits for d or until the actor context is cancelled.
func (m *Motor) sleep(d time.Duration) {
	t := pool.GetTimer(d)
	defer pool.PutTimer(t)

	select {
	case <-t.C:
	case <-m.ctx.Done():
	}
}

// issuer executes a named command and returns its wire outcome. The actor
// uses three variants: Send for external callers, directIssue for
// executor-resident code and lockedIssue while wireMu is already held.
type issuer func(name string, args ...any) (scl.Result, error)

// directIssue executes a command on the calling goroutine, bypassing the
// request channel. It must not be used by external callers while the executor
// loop is running.
func (m *Motor) directIssue(name string, args ...any) (scl.Result, error) {
	spec, err := scl.Lookup(name)
	if err != nil {
		return scl.Result{}, err
	}

	if spec.Compound {
		return m.runCompound(name, m.directIssue, args)
	}

	return m.execPrimitive(spec, args), nil
}

// lockedIssue executes a command while wireMu is already held. It exists for
// device configuration, which runs inside the connect path.
func (m *Motor) lockedIssue(name string, args ...any) (scl.Result, error) {
	spec, err := scl.Lookup(name)
	if err != nil {
		return scl.Result{}, err
	}

	if spec.Compound {
		return m.runCompound(name, m.lockedIssue, args)
	}

	return m.execLocked(spec, args), nil
}
