package pzem004

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(steps ...ScriptedStep) (*Client, *ScriptedChannel) {
	ch := NewScriptedChannel(steps...)
	return NewClient(ch, 100*time.Millisecond, zap.NewNop(), nil), ch
}

func TestReadCurrent(t *testing.T) {

	assert := assert.New(t)

	client, ch := testClient(RespondRaw(0xB1, 0x00, 0x01, 0x00, 0x00, 0x00, 0xB2))

	current, err := client.ReadCurrent()
	require.NoError(t, err)
	assert.Equal(1.0, current)
	assert.Equal([][]byte{Encode(ReadCurrent)}, ch.Written(), "request frame")
}

func TestReadEachQuantity(t *testing.T) {

	assert := assert.New(t)

	client, ch := testClient(
		RespondWith(NewResponseFrame(0xA0, [5]byte{0x00, 0xE6, 0x05})),
		RespondWith(NewResponseFrame(0xA2, [5]byte{0x08, 0x98})),
		RespondWith(NewResponseFrame(0xA3, [5]byte{0x01, 0x86, 0xA0})),
	)

	voltage, err := client.ReadVoltage()
	require.NoError(t, err)
	assert.InDelta(230.5, voltage, 1e-9)

	power, err := client.ReadPower()
	require.NoError(t, err)
	assert.Equal(uint32(2200), power)

	energy, err := client.ReadAccumulatedEnergy()
	require.NoError(t, err)
	assert.Equal(uint32(100000), energy)

	assert.Equal([][]byte{Encode(ReadVoltage), Encode(ReadPower), Encode(ReadAccumulatedEnergy)}, ch.Written())
}

func TestErrorsPropagateUnchanged(t *testing.T) {

	assert := assert.New(t)

	client, _ := testClient(
		FailWith(ErrTimeout),
		RespondRaw(0xB1, 0x00, 0x64, 0x00, 0x00, 0x00, 0x64),
		RespondRaw(0xB1, 0x00, 0x64),
	)

	_, err := client.ReadCurrent()
	assert.ErrorIs(err, ErrTimeout)
	assert.Equal(ReadCurrent.Name(), CommandOf(err))

	_, err = client.ReadCurrent()
	assert.ErrorIs(err, ErrChecksumMismatch)

	_, err = client.ReadCurrent()
	assert.ErrorIs(err, ErrTimeout, "short response is reported by the channel as a timeout")
}

func TestWriteFailureIsIOError(t *testing.T) {

	client, ch := testClient()
	ch.FailWrites(errors.New("broken pipe"))

	_, err := client.ReadPower()
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, KIND_IO, KindOf(err))
}

func TestIsReady(t *testing.T) {

	client, ch := testClient(RespondWith(NewResponseFrame(0xA4, [5]byte{})))

	ready, err := client.IsReady()
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, [][]byte{Encode(SetAddress)}, ch.Written())
}

func TestIsReadyChecksumFailureIsAnError(t *testing.T) {

	client, _ := testClient(RespondRaw(0xA4, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00))

	ready, err := client.IsReady()
	assert.False(t, ready)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestReadAll(t *testing.T) {

	assert := assert.New(t)

	client, ch := testClient(
		RespondWith(NewResponseFrame(0xA4, [5]byte{})),
		RespondWith(NewResponseFrame(0xA0, [5]byte{0x00, 0xE6, 0x05})),
		RespondWith(NewResponseFrame(0xA1, [5]byte{0x00, 0x01, 0x50})),
		RespondWith(NewResponseFrame(0xA2, [5]byte{0x01, 0x2C})),
		RespondWith(NewResponseFrame(0xA3, [5]byte{0x00, 0x10, 0x00})),
	)

	r, err := client.ReadAll()
	require.NoError(t, err)
	assert.InDelta(230.5, r.Voltage, 1e-9)
	assert.InDelta(1.8, r.Current, 1e-9)
	assert.Equal(uint32(300), r.Power)
	assert.Equal(uint32(4096), r.AccumulatedEnergy)
	assert.Len(ch.Written(), 5)
	assert.Equal(Encode(SetAddress), ch.Written()[0], "readiness is checked first")
}

func TestReadAllNotReady(t *testing.T) {

	assert := assert.New(t)

	client, ch := testClient(FailWith(ErrTimeout))

	r, err := client.ReadAll()
	assert.Nil(r)
	assert.ErrorIs(err, ErrNotReady)
	assert.ErrorIs(err, ErrTimeout, "cause is kept")
	assert.Equal(KIND_NOT_READY, KindOf(err))
	assert.Len(ch.Written(), 1, "no reads after a failed readiness check")
}

func TestInstrumentation(t *testing.T) {

	assert := assert.New(t)

	var timed []string
	var failed []string
	inst := &MeterInstrument{
		RecordTime: func(command string, _ time.Duration) {
			timed = append(timed, command)
		},
		RecordError: func(command string, err error) {
			failed = append(failed, command+":"+KindOf(err))
		},
	}
	ch := NewScriptedChannel(RespondRaw(0xB1, 0x00, 0x01, 0x00, 0x00, 0x00, 0xB2), FailWith(ErrTimeout))
	client := NewClient(ch, time.Second, nil, inst)

	_, _ = client.ReadCurrent()
	_, _ = client.ReadCurrent()

	assert.Equal([]string{"read_current", "read_current"}, timed)
	assert.Equal([]string{"read_current:timeout"}, failed)
}

func TestClose(t *testing.T) {

	client, ch := testClient()
	require.NoError(t, client.Close())
	assert.True(t, ch.Closed())
}
