package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingActuator struct {
	start, stop bool
	writes      []string
	failStart   error
}

func (a *recordingActuator) SetStart(on bool) error {
	if a.failStart != nil {
		return a.failStart
	}
	a.start = on
	a.writes = append(a.writes, fmt.Sprintf("start=%t", on))
	return nil
}

func (a *recordingActuator) SetStop(on bool) error {
	a.stop = on
	a.writes = append(a.writes, fmt.Sprintf("stop=%t", on))
	return nil
}

type recordingSink struct {
	events []any
}

func (s *recordingSink) Publish(evt any) {
	s.events = append(s.events, evt)
}

func (s *recordingSink) relayStates() []domain.RelayStateEvent {
	var out []domain.RelayStateEvent
	for _, ev := range s.events {
		if rs, ok := ev.(domain.RelayStateEvent); ok {
			out = append(out, rs)
		}
	}
	return out
}

func newController(maxIOErrors uint) (*RelayController, *recordingActuator, *recordingSink) {
	act := &recordingActuator{start: true, stop: true}
	sink := &recordingSink{}
	ctrl := NewRelayController(DefaultThresholdPolicy{Upper: 1.0, Lower: 1.0}, act, sink, maxIOErrors, zap.NewNop())
	return ctrl, act, sink
}

var now = time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)

func TestThresholdPolicy(t *testing.T) {

	assert := assert.New(t)

	p := DefaultThresholdPolicy{Upper: 1.5, Lower: 0.5}
	assert.Equal(domain.DecisionStart, p.Decide(1.51))
	assert.Equal(domain.DecisionHold, p.Decide(1.5))
	assert.Equal(domain.DecisionHold, p.Decide(1.0))
	assert.Equal(domain.DecisionHold, p.Decide(0.5))
	assert.Equal(domain.DecisionStop, p.Decide(0.49))
}

func TestInitDeassertsBothOutputs(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, sink := newController(5)
	require.NoError(t, ctrl.Init(now))

	assert.False(act.start)
	assert.False(act.stop)
	assert.Equal(domain.ActuatorIdle, ctrl.State())
	assert.Equal([]domain.RelayStateEvent{{State: domain.ActuatorIdle, At: now}}, sink.relayStates())
}

func TestStartAboveUpperThreshold(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, sink := newController(5)
	require.NoError(t, ctrl.Init(now))

	require.NoError(t, ctrl.OnCurrent(1.5, now))

	assert.Equal(domain.ActuatorRunning, ctrl.State())
	assert.True(act.start)
	assert.False(act.stop)
	assert.Contains(sink.events, domain.ReadingEvent{Kind: domain.READING_CURRENT, Value: 1.5, At: now})
	assert.Equal(domain.RelayStateEvent{State: domain.ActuatorRunning, StartSignal: true, At: now}, sink.relayStates()[1])
}

func TestReadingPublishedAfterDecision(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, sink := newController(5)
	require.NoError(t, ctrl.Init(now))
	sink.events = nil

	require.NoError(t, ctrl.OnCurrent(1.5, now))
	require.Len(t, sink.events, 2)
	assert.Equal(domain.RelayStateEvent{State: domain.ActuatorRunning, StartSignal: true, At: now}, sink.events[0])
	assert.Equal(domain.ReadingEvent{Kind: domain.READING_CURRENT, Value: 1.5, At: now}, sink.events[1])

	// the reading still goes out when the outputs cannot be written
	act.failStart = errors.New("pin busy")
	sink.events = nil
	assert.ErrorIs(ctrl.OnCurrent(0.2, now), ErrActuator)
	assert.Equal(domain.ReadingEvent{Kind: domain.READING_CURRENT, Value: 0.2, At: now}, sink.events[len(sink.events)-1])
}

func TestStopBelowLowerThreshold(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, _ := newController(5)
	require.NoError(t, ctrl.Init(now))
	require.NoError(t, ctrl.OnCurrent(1.5, now))
	act.writes = nil

	require.NoError(t, ctrl.OnCurrent(0.5, now))

	assert.Equal(domain.ActuatorIdle, ctrl.State())
	assert.False(act.start)
	assert.True(act.stop)
	assert.Equal([]string{"start=false", "stop=true"}, act.writes, "start is released before stop is asserted")
}

func TestExactThresholdChangesNothing(t *testing.T) {

	assert := assert.New(t)

	// decoded from [B1 00 01 00 00 00 B2]
	frame, err := pzem004.Decode([]byte{0xB1, 0x00, 0x01, 0x00, 0x00, 0x00, 0xB2})
	require.NoError(t, err)
	current := frame.Current()

	for _, initial := range []float64{1.5, 0.5} {
		ctrl, act, sink := newController(5)
		require.NoError(t, ctrl.Init(now))
		require.NoError(t, ctrl.OnCurrent(initial, now))
		state := ctrl.State()
		start, stop := act.start, act.stop
		writes := len(act.writes)
		events := len(sink.relayStates())

		require.NoError(t, ctrl.OnCurrent(current, now))

		assert.Equal(state, ctrl.State())
		assert.Equal(start, act.start)
		assert.Equal(stop, act.stop)
		assert.Len(act.writes, writes, "no output writes")
		assert.Len(sink.relayStates(), events, "no state event")
	}
}

func TestOutputsReassertedOnEveryDecision(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, sink := newController(5)
	require.NoError(t, ctrl.Init(now))
	require.NoError(t, ctrl.OnCurrent(2.0, now))
	act.writes = nil
	events := len(sink.relayStates())

	require.NoError(t, ctrl.OnCurrent(2.1, now))

	assert.Equal([]string{"stop=false", "start=true"}, act.writes)
	assert.Len(sink.relayStates(), events, "state event only on change")
}

func TestReadErrorLeavesOutputsUnchanged(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, sink := newController(5)
	require.NoError(t, ctrl.Init(now))
	require.NoError(t, ctrl.OnCurrent(1.5, now))
	act.writes = nil

	for _, cause := range []error{pzem004.ErrTimeout, pzem004.ErrChecksumMismatch, pzem004.ErrShortRead} {
		err := ctrl.OnReadError(&pzem004.ExchangeError{Command: "read_current", Err: cause}, now)
		assert.NoError(err)
	}

	assert.Equal(domain.ActuatorRunning, ctrl.State())
	assert.True(act.start)
	assert.False(act.stop)
	assert.Empty(act.writes)

	last := sink.events[len(sink.events)-1].(domain.ReadErrorEvent)
	assert.Equal(pzem004.KIND_SHORT_READ, last.Kind)
	assert.Equal("read_current", last.Command)
}

func TestIOErrorEscalation(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, _ := newController(3)
	require.NoError(t, ctrl.Init(now))
	require.NoError(t, ctrl.OnCurrent(1.5, now))

	ioErr := &pzem004.ExchangeError{Command: "read_current", Err: pzem004.ErrIO}
	assert.NoError(ctrl.OnReadError(ioErr, now))
	assert.NoError(ctrl.OnReadError(ioErr, now))

	// a timeout does not break the sequence
	assert.NoError(ctrl.OnReadError(pzem004.ErrTimeout, now))

	err := ctrl.OnReadError(ioErr, now)
	assert.ErrorIs(err, ErrIOEscalation)
	assert.ErrorIs(err, pzem004.ErrIO)
	assert.True(act.start, "escalation alone does not touch the outputs")
}

func TestSuccessfulReadResetsIOErrors(t *testing.T) {

	ctrl, _, _ := newController(2)
	require.NoError(t, ctrl.Init(now))

	ioErr := fmt.Errorf("%w: read: EIO", pzem004.ErrIO)
	assert.NoError(t, ctrl.OnReadError(ioErr, now))
	require.NoError(t, ctrl.OnCurrent(0.2, now))
	assert.NoError(t, ctrl.OnReadError(ioErr, now))
	assert.Error(t, ctrl.OnReadError(ioErr, now))
}

func TestEscalationDisabled(t *testing.T) {

	ctrl, _, _ := newController(0)
	require.NoError(t, ctrl.Init(now))

	for i := 0; i < 20; i++ {
		assert.NoError(t, ctrl.OnReadError(pzem004.ErrIO, now))
	}
}

func TestShutdownDeasserts(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, _ := newController(5)
	require.NoError(t, ctrl.Init(now))
	require.NoError(t, ctrl.OnCurrent(3.0, now))

	require.NoError(t, ctrl.Shutdown(now))

	assert.False(act.start)
	assert.False(act.stop)
	assert.Equal(domain.ActuatorIdle, ctrl.State())
}

func TestActuatorFailureKeepsState(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, _ := newController(5)
	require.NoError(t, ctrl.Init(now))
	act.failStart = errors.New("pin busy")

	err := ctrl.OnCurrent(1.5, now)
	assert.ErrorIs(err, ErrActuator)
	assert.Equal(domain.ActuatorIdle, ctrl.State())

	err = ctrl.Shutdown(now)
	assert.ErrorIs(err, ErrActuator)
	assert.False(act.stop, "stop is released even if start fails")
}

func TestOnReadings(t *testing.T) {

	assert := assert.New(t)

	ctrl, act, sink := newController(5)
	require.NoError(t, ctrl.Init(now))
	act.writes = nil
	sink.events = nil

	ctrl.OnReadings(&pzem004.Readings{Voltage: 230.1, Current: 4.2, Power: 960, AccumulatedEnergy: 1200}, now)

	assert.Equal([]any{
		domain.ReadingEvent{Kind: domain.READING_VOLTAGE, Value: 230.1, At: now},
		domain.ReadingEvent{Kind: domain.READING_CURRENT, Value: 4.2, At: now},
		domain.ReadingEvent{Kind: domain.READING_POWER, Value: 960, At: now},
		domain.ReadingEvent{Kind: domain.READING_ENERGY, Value: 1200, At: now},
	}, sink.events)
	assert.Empty(act.writes, "a full readout does not drive the outputs")
}
