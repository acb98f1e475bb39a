package motor

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a motor actor.
// The fields can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// CommandSendCount indicates the number of primitive commands issued.
	CommandSendCount atomic.Uint64
	// NackCount indicates the number of negative acknowledgements received.
	NackCount atomic.Uint64
	// MalformedCount indicates the number of exchanges that ended malformed.
	MalformedCount atomic.Uint64
	// ResyncCount indicates the number of extra receives performed to resync
	// the wire after an out-of-band acknowledgement.
	ResyncCount atomic.Uint64
	// ReconnectCount indicates the number of inline reconnect-and-resend cycles.
	ReconnectCount atomic.Uint64
	// HeartbeatCount indicates the number of heartbeat cycles executed.
	HeartbeatCount atomic.Uint64

	// ConnRetryGauge indicates the number of consecutive failed connection
	// attempts; it resets to zero on a successful connect.
	ConnRetryGauge atomic.Uint32
}

func (m *Metrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *Metrics) incNackCount() {
	m.NackCount.Add(1)
}

func (m *Metrics) incMalformedCount() {
	m.MalformedCount.Add(1)
}

func (m *Metrics) incResyncCount() {
	m.ResyncCount.Add(1)
}

func (m *Metrics) incReconnectCount() {
	m.ReconnectCount.Add(1)
}

func (m *Metrics) incHeartbeatCount() {
	m.HeartbeatCount.Add(1)
}

func (m *Metrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *Metrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
