package scl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeAlarm_Inactive(t *testing.T) {
	require := require.New(t)

	alarm, err := DecodeAlarm("0000")
	require.NoError(err)
	require.False(alarm.Active())
	require.False(alarm.OnLimit())
	require.Empty(alarm.SubCodes)
	require.Empty(alarm.Message())
}

func TestDecodeAlarm_Limits(t *testing.T) {
	require := require.New(t)

	alarm, err := DecodeAlarm("0002")
	require.NoError(err)
	require.True(alarm.Active())
	require.True(alarm.CCWLimit)
	require.False(alarm.CWLimit)
	require.True(alarm.LimitOnly())
	require.Equal("0002 - CCW limit", alarm.Message())

	alarm, err = DecodeAlarm("0004")
	require.NoError(err)
	require.True(alarm.CWLimit)
	require.False(alarm.CCWLimit)
	require.True(alarm.LimitOnly())
	require.Equal("0004 - CW limit", alarm.Message())
}

func TestDecodeAlarm_WeightedSubCodes(t *testing.T) {
	require := require.New(t)

	// each register digit contributes digit * 10^(3-i)
	alarm, err := DecodeAlarm("0048")
	require.NoError(err)
	require.Equal([]int{40, 8}, alarm.SubCodes)
	require.Equal("0040 - under voltage :: 0008 - over temp [Drive Fault]", alarm.Message())
	require.False(alarm.OnLimit())
	require.False(alarm.LimitOnly())

	alarm, err = DecodeAlarm("1000")
	require.NoError(err)
	require.Equal([]int{1000}, alarm.SubCodes)
	require.Equal("1000 - no move", alarm.Message())
}

func TestDecodeAlarm_UnknownSubCode(t *testing.T) {
	require := require.New(t)

	// digit 3 yields sub-code 3, which has no table entry; it stays active but
	// contributes no message
	alarm, err := DecodeAlarm("0003")
	require.NoError(err)
	require.True(alarm.Active())
	require.Equal([]int{3}, alarm.SubCodes)
	require.Empty(alarm.Messages)
	require.Empty(alarm.Message())
}

func TestDecodeAlarm_Invalid(t *testing.T) {
	require := require.New(t)

	_, err := DecodeAlarm("12")
	require.ErrorIs(err, ErrInvalidAlarmCode)

	_, err = DecodeAlarm("00x0")
	require.ErrorIs(err, ErrInvalidAlarmCode)

	_, err = DecodeAlarm("")
	require.ErrorIs(err, ErrInvalidAlarmCode)
}
