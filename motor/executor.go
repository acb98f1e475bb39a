package motor

import (
	"time"

	"github.com/bapsf-motion/go-scl/internal/pool"
	"github.com/bapsf-motion/go-scl/scl"
)

// maxResyncReceives bounds how many extra replies one exchange may consume to
// resynchronize the wire, matching the depth of the drive's command queue.
const maxResyncReceives = 5

// request carries one bridged command from a caller to the executor
// goroutine. The response channel is buffered so the executor never blocks on
// a caller that timed out.
type request struct {
	spec *scl.CommandSpec
	args []any
	resp chan scl.Result
}

// Send executes a named command and returns its wire outcome.
//
// Wire-level failures (Nack, lost connection, malformed replies) are reported
// in the Result, not the error; the error covers local preconditions and the
// dispatch bridge only. While the executor loop is running the command is
// handed to it over the request channel and Send blocks up to the configured
// dispatch timeout; otherwise the command executes on the caller's goroutine.
func (m *Motor) Send(name string, args ...any) (scl.Result, error) {
	if m.terminated.Load() {
		return scl.Result{}, ErrTerminated
	}

	spec, err := scl.Lookup(name)
	if err != nil {
		return scl.Result{}, err
	}

	if spec.Compound {
		return m.runCompound(name, m.Send, args)
	}

	if !m.running.Load() {
		return m.execPrimitive(spec, args), nil
	}

	req := &request{spec: spec, args: args, resp: make(chan scl.Result, 1)}

	timer := pool.GetTimer(m.cfg.DispatchTimeout())
	defer pool.PutTimer(timer)

	select {
	case m.reqChan <- req:
	case <-timer.C:
		m.logger.Error("command dispatch timed out before execution", "command", name)
		return scl.Result{}, ErrDispatchTimeout
	case <-m.ctx.Done():
		return scl.Result{}, ErrTerminated
	}

	select {
	case res := <-req.resp:
		return res, nil
	case <-timer.C:
		m.logger.Error("command dispatch timed out awaiting result", "command", name)
		return scl.Result{}, ErrDispatchTimeout
	case <-m.ctx.Done():
		return scl.Result{}, ErrTerminated
	}
}

// executorLoop is the single goroutine that owns the socket while the actor
// runs. It serves bridged requests and drives the heartbeat, re-arming the
// heartbeat timer from the current drive state after every cycle.
func (m *Motor) executorLoop() {
	defer m.wg.Done()

	interval := m.heartbeatInterval()
	prev := interval
	beats := 0

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("executor loop stopping")
			return

		case req := <-m.reqChan:
			req.resp <- m.execPrimitive(req.spec, req.args)

		case <-timer.C:
			m.heartbeatCycle()
			beats++

			interval = m.heartbeatInterval()
			if interval != prev {
				m.logger.Info("heartbeat interval changed",
					"old_interval", prev,
					"new_interval", interval,
					"beats", beats)
				prev = interval
				beats = 0
			}

			timer.Reset(interval)
		}
	}
}

// execPrimitive performs one wire exchange under the wire lock.
func (m *Motor) execPrimitive(spec *scl.CommandSpec, args []any) scl.Result {
	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	return m.execLocked(spec, args)
}

// execLocked encodes, sends and classifies one command. The caller must hold
// wireMu.
func (m *Motor) execLocked(spec *scl.CommandSpec, args []any) scl.Result {
	m.metrics.incCommandSendCount()

	cmd, synth := scl.EncodeCommand(spec, m.logger, args...)
	if synth != nil {
		if synth.Status == scl.StatusNack {
			m.metrics.incNackCount()
		}
		return *synth
	}

	m.logger.Debug("sending command", "command", spec.Name, "payload", cmd)

	if err := m.sendLocked(cmd); err != nil {
		m.logger.Error("command was not executed", "command", spec.Name, "error", err)
		return scl.Result{Status: scl.StatusLostConnection}
	}

	reply, err := m.recvLocked()
	if err != nil {
		m.logger.Error("no reply for command", "command", spec.Name, "error", err)
		return scl.Result{Status: scl.StatusLostConnection}
	}

	res := m.resyncLocked(spec, args, scl.Classify(spec, reply, m.logger))

	switch res.Status {
	case scl.StatusNack:
		m.metrics.incNackCount()
		m.logger.Warn("drive rejected command",
			"command", spec.Name,
			"nack_code", res.NackCode,
			"reason", scl.NackMessage(res.NackCode))
	case scl.StatusMalformed:
		m.metrics.incMalformedCount()
	}

	return res
}

// resyncLocked consumes extra replies when the wire is out of step.
//
// A query that expects a data payload but receives a bare acknowledgement got
// the delayed ack of an earlier queued command; the real payload is still in
// flight. Such results are demoted to malformed and another reply is read, up
// to maxResyncReceives times.
func (m *Motor) resyncLocked(spec *scl.CommandSpec, args []any, res scl.Result) scl.Result {
	demote := func(r scl.Result) scl.Result {
		staleAck := r.Status == scl.StatusAck || r.Status == scl.StatusAckQueued
		if staleAck && len(args) == 0 && spec.HasPattern() {
			r = scl.Result{Status: scl.StatusMalformed}
		}
		return r
	}

	res = demote(res)

	for extra := 0; res.Status == scl.StatusMalformed && extra < maxResyncReceives; extra++ {
		m.metrics.incResyncCount()
		m.logger.Warn("reply out of step, reading next frame",
			"command", spec.Name,
			"extra_receives", extra+1)

		reply, err := m.recvLocked()
		if err != nil {
			return scl.Result{Status: scl.StatusLostConnection}
		}

		res = demote(scl.Classify(spec, reply, m.logger))
	}

	return res
}
