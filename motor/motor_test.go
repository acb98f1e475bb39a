package motor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bapsf-motion/go-scl/scl"
)

// fastHeartRate keeps heartbeat-driven tests quick.
var fastHeartRate = HeartRate{
	Base:      50 * time.Millisecond,
	Active:    20 * time.Millisecond,
	Searching: 100 * time.Millisecond,
	Paused:    200 * time.Millisecond,
}

func newTestMotor(t *testing.T, d *mockDrive, opts ...Option) *Motor {
	t.Helper()

	cfg := testConfig(t, d.port(), opts...)
	m, err := New(context.Background(), cfg)
	require.NoError(t, err)

	return m
}

func indexOf(cmds []string, cmd string) int {
	for i, c := range cmds {
		if c == cmd {
			return i
		}
	}

	return -1
}

func countOf(cmds []string, cmd string) int {
	n := 0
	for _, c := range cmds {
		if c == cmd {
			n++
		}
	}

	return n
}

func TestMotor_ConnectAndConfigure(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())
	require.True(m.Connected())

	cmds := d.commands()
	require.Contains(cmds, "PR")
	require.Contains(cmds, "IFD")
	require.Contains(cmds, "DL1")
	require.Contains(cmds, "VE4.0000")
	require.Contains(cmds, "JS4.0000")
	require.Contains(cmds, "CC4.0")
	require.Contains(cmds, "EG")

	// Ack/Nack bit is already set in the default protocol word, so no write
	for _, cmd := range cmds {
		require.False(len(cmd) > 2 && cmd[:2] == "PR", "unexpected protocol write %q", cmd)
	}

	info := m.Info()
	require.Equal("Applied Motion Products", info.Manufacturer)
	require.Equal(int64(20000), info.Gearing)
	require.Equal(int64(4000), info.EncoderResolution)
	require.InDelta(4.0, info.Speed, 1e-9)
	require.Contains(info.ProtocolSettings, "Always return 'Ack/Nack'")

	// reconnecting on a live socket is a no-op
	before := len(d.commands())
	require.NoError(m.Connect())
	require.Len(d.commands(), before)
}

func TestMotor_ProtocolWordUpgrade(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)

	var upgraded atomic.Bool
	d.setHandler(func(cmd string) []string {
		switch {
		case cmd == "PR" && !upgraded.Load():
			return []string{"PR=000000000"}
		case cmd == "PR":
			return []string{"PR=000000100"}
		case cmd == "PR4":
			upgraded.Store(true)
			return []string{"%"}
		}

		return nil
	})

	m := newTestMotor(t, d)
	require.NoError(m.Connect())

	cmds := d.commands()
	require.Contains(cmds, "PR4")
	require.Less(indexOf(cmds, "PR"), indexOf(cmds, "PR4"))
	require.Contains(m.Info().ProtocolSettings, "Always return 'Ack/Nack'")
}

func TestMotor_ConnectFailure(t *testing.T) {
	require := require.New(t)

	// reserve a port, then close it so nothing listens there
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(ln.Close())

	cfg := testConfig(t, port, WithMaxConnAttempts(2))
	m, err := New(context.Background(), cfg)
	require.NoError(err)

	err = m.Run()
	require.ErrorIs(err, ErrConnectFailed)
	require.False(m.Connected())
	require.Equal(uint32(2), m.Metrics().ConnRetryGauge.Load())
}

func TestMotor_RunAndTerminate(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Run())
	require.True(m.Connected())

	// Run again is a no-op
	require.NoError(m.Run())

	m.Terminate(false)

	cmds := d.commands()
	require.Contains(cmds, "SK") // stop
	require.Contains(cmds, "MD") // disable

	_, err := m.Send("speed")
	require.ErrorIs(err, ErrTerminated)

	// Terminate is idempotent
	m.Terminate(false)
}

func TestMotor_SendBridged_Concurrent(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Run())
	defer m.Terminate(false)

	const callers = 50

	var wg sync.WaitGroup
	errs := make([]error, callers)
	results := make([]scl.Result, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Send("speed")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(errs[i], "caller %d", i)
		require.Equal(scl.StatusData, results[i].Status, "caller %d", i)

		v, ok := results[i].Float()
		require.True(ok, "caller %d", i)
		require.InDelta(4.0, v, 1e-9, "caller %d", i)
	}
}

func TestMotor_ResyncAfterQueuedAck(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)

	// the drive flushes a delayed ack of a queued command before the data
	d.setHandler(func(cmd string) []string {
		if cmd == "IP" {
			return []string{"*", "IP=1234"}
		}
		return nil
	})

	m := newTestMotor(t, d)
	require.NoError(m.Connect())

	res, err := m.Send("get_position")
	require.NoError(err)
	require.Equal(scl.StatusData, res.Status)

	pos, ok := res.Int()
	require.True(ok)
	require.Equal(int64(1234), pos)
	require.GreaterOrEqual(m.Metrics().ResyncCount.Load(), uint64(1))
}

func TestMotor_MovementSignals(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)

	var rsCount atomic.Int32
	d.setHandler(func(cmd string) []string {
		if cmd == "RS" {
			switch rsCount.Add(1) {
			case 1:
				return []string{"RS=R"}
			case 2:
				return []string{"RS=FMR"}
			default:
				return []string{"RS=RP"}
			}
		}
		return nil
	})

	m := newTestMotor(t, d, WithHeartRate(fastHeartRate))

	started := make(chan struct{}, 8)
	finished := make(chan struct{}, 8)
	var startedCount, finishedCount atomic.Int32

	m.Signals().MovementStarted.Connect(func() {
		startedCount.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
	})
	m.Signals().MovementFinished.Connect(func() {
		finishedCount.Add(1)
		select {
		case finished <- struct{}{}:
		default:
		}
	})

	require.NoError(m.Run())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("movement start was never signalled")
	}
	require.True(m.IsMoving())

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("movement finish was never signalled")
	}
	require.False(m.IsMoving())

	require.Equal(int32(1), startedCount.Load())
	require.Equal(int32(1), finishedCount.Load())

	m.Terminate(false)
}

func TestMotor_ReconnectAfterDrop(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d, WithHeartRate(fastHeartRate))

	require.NoError(m.Run())
	defer m.Terminate(false)

	require.Equal(1, countOf(d.commands(), "IFD"))

	d.dropConnections()

	// the heartbeat notices the dead socket and re-runs device configuration
	waitFor(t, 5*time.Second, func() bool {
		return countOf(d.commands(), "IFD") >= 2 && m.Connected()
	}, "drive was never reconfigured after reconnect")
}

func TestMotor_MoveTo(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())
	require.NoError(m.MoveTo(5000))

	cmds := d.commands()
	me := indexOf(cmds, "ME")
	di := indexOf(cmds, "DI5000")
	fp := indexOf(cmds, "FP")
	require.GreaterOrEqual(me, 0)
	require.Greater(di, me)
	require.Greater(fp, di)
}

func TestMotor_MoveToRefusedOnAlarm(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)

	// persistent over-temperature alarm, not clearable by reset
	d.setHandler(func(cmd string) []string {
		if cmd == "AL" {
			return []string{"AL=0008"}
		}
		return nil
	})

	m := newTestMotor(t, d)
	require.NoError(m.Connect())

	_, err := m.Send("retrieve_motor_status")
	require.NoError(err)

	st := m.Status()
	require.True(st.Alarm)
	require.Contains(st.AlarmMessage, "over temp")

	require.ErrorIs(m.MoveTo(100), ErrNotMoveable)
	require.NotContains(d.commands(), "DI100")
}

func TestMotor_MoveOffLimit(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)

	// on the CW limit until a feed command moves the motor away
	var moved atomic.Bool
	d.setHandler(func(cmd string) []string {
		switch {
		case cmd == "AL" && !moved.Load():
			return []string{"AL=0004"}
		case cmd == "AL":
			return []string{"AL=0000"}
		case cmd == "FP":
			moved.Store(true)
			return []string{"%"}
		case cmd == "IP" && !moved.Load():
			return []string{"IP=1000"}
		case cmd == "IP":
			return []string{"IP=-9000"}
		}
		return nil
	})

	m := newTestMotor(t, d, WithHeartRate(fastHeartRate))
	require.NoError(m.Connect())

	require.NoError(m.MoveOffLimit())

	// half a revolution away from the CW limit: 1000 - 20000/2
	require.Contains(d.commands(), "DI-9000")

	st := m.Status()
	require.False(st.CWLimit)
	require.False(st.Alarm)
}

func TestMotor_ContinuousJog(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())
	require.NoError(m.ContinuousJog("backward"))

	cmds := d.commands()
	di := indexOf(cmds, "DI-1")
	cj := indexOf(cmds, "CJ")
	require.GreaterOrEqual(di, 0)
	require.Greater(cj, di)

	require.ErrorIs(m.ContinuousJog("sideways"), ErrInvalidArgument)
}

func TestMotor_StopEncoding(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())

	require.NoError(m.Stop(true))
	require.Contains(d.commands(), "SKD")

	require.NoError(m.Stop(false))
	require.Contains(d.commands(), "SK")
}

func TestMotor_SetCurrent(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())

	// half the peak current; idle stays at the drive's reported 1.2 A since
	// that is already below 90% of the new running current
	require.NoError(m.SetCurrent(0.5))

	cmds := d.commands()
	cc := indexOf(cmds, "CC2.5")
	require.GreaterOrEqual(cc, 0)
	require.Greater(indexOf(cmds[cc:], "CI1.2"), 0)

	require.ErrorIs(m.SetCurrent(1.5), ErrInvalidArgument)
}

func TestMotor_SetIdleCurrentClamped(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())

	// 0.95 exceeds the drive maximum and is clamped to 0.9 of the 4.0 A
	// running current
	require.NoError(m.SetIdleCurrent(0.95))
	require.Contains(d.commands(), "CI3.6")

	require.ErrorIs(m.SetIdleCurrent(-0.1), ErrInvalidArgument)
}

func TestMotor_SetPositionAndZero(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	require.NoError(m.Connect())
	require.NoError(m.SetPosition(777))

	cmds := d.commands()
	require.Contains(cmds, "CC5.0") // full torque for the redefinition
	require.Contains(cmds, "EP777")
	require.Contains(cmds, "SP777")
	require.Contains(cmds, "MD") // drive was disabled before, restore that

	st := m.Status()
	require.Equal(int64(777), st.Position)

	require.NoError(m.Zero())
	require.Contains(d.commands(), "SP0")
}

func TestMotor_Position(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	d.setHandler(func(cmd string) []string {
		if cmd == "IP" {
			return []string{"IP=4321"}
		}
		return nil
	})

	m := newTestMotor(t, d)
	require.NoError(m.Connect())

	// without a live heartbeat the position is read from the drive
	pos, err := m.Position()
	require.NoError(err)
	require.Equal(int64(4321), pos)
	require.Equal(int64(4321), m.Status().Position)
}

func TestMotor_DispatchTimeout(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	d.setHandler(func(cmd string) []string {
		if cmd == "DI7" {
			time.Sleep(400 * time.Millisecond)
		}
		return nil
	})

	m := newTestMotor(t, d, WithDispatchTimeout(150*time.Millisecond))

	require.NoError(m.Run())
	defer m.Terminate(false)

	_, err := m.Send("target_distance", 7)
	require.ErrorIs(err, ErrDispatchTimeout)
}

func TestMotor_SendUnknownCommand(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	m := newTestMotor(t, d)

	_, err := m.Send("warp_drive")
	require.ErrorIs(err, scl.ErrUnknownCommand)
}

func TestMotor_NackSurfacesInResult(t *testing.T) {
	require := require.New(t)

	d := newMockDrive(t)
	d.setHandler(func(cmd string) []string {
		if cmd == "FP" {
			return []string{"?8"}
		}
		return nil
	})

	m := newTestMotor(t, d)
	require.NoError(m.Connect())

	res, err := m.Send("feed")
	require.NoError(err)
	require.Equal(scl.StatusNack, res.Status)
	require.Equal(8, res.NackCode)
	require.Equal(fmt.Sprintf("nack(8 - %s)", scl.NackMessage(8)), res.String())
	require.GreaterOrEqual(m.Metrics().NackCount.Load(), uint64(1))
}
