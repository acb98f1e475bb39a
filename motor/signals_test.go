package motor

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignal_ConnectEmitDisconnect(t *testing.T) {
	require := require.New(t)

	sig := newSignal()

	var fired atomic.Int32
	id1 := sig.Connect(func() { fired.Add(1) })
	id2 := sig.Connect(func() { fired.Add(1) })
	require.NotEqual(id1, id2)

	sig.Emit()
	require.Equal(int32(2), fired.Load())

	sig.Disconnect(id1)
	sig.Emit()
	require.Equal(int32(3), fired.Load())

	sig.DisconnectAll()
	sig.Emit()
	require.Equal(int32(3), fired.Load())

	// disconnecting an unknown handle is harmless
	sig.Disconnect(id2)
}

func TestSignals_StatusChangedOnlyOnRealChange(t *testing.T) {
	require := require.New(t)

	m := newIdleMotor(t)

	var changes atomic.Int32
	m.Signals().StatusChanged.Connect(func() { changes.Add(1) })

	m.updateStatus(func(st *DeviceStatus) { st.Enabled = true })
	require.Equal(int32(1), changes.Load())

	// identical snapshot, no notification
	m.updateStatus(func(st *DeviceStatus) { st.Enabled = true })
	require.Equal(int32(1), changes.Load())

	m.updateStatus(func(st *DeviceStatus) { st.Position = 50 })
	require.Equal(int32(2), changes.Load())
}
