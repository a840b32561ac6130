package actor

import (
	"sync"
	"testing"
	"time"

	adactor "github.com/relaywatch/pzem2mqtt/internal/adapter/actor"
	"github.com/relaywatch/pzem2mqtt/internal/adapter/relay"
	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/core/service"
	"github.com/relaywatch/pzem2mqtt/internal/util"
	"github.com/relaywatch/pzem2mqtt/internal/util/actorutil"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type relayFixture struct {
	as       *actor.ActorSystem
	cfg      config.Config
	meter    *pzem004.TestMeterReader
	actuator *relay.LogActuator
	es       *eventstream.EventStream
	meterPID *actor.PID
	logger   *zap.Logger
}

func newRelayFixture(t *testing.T) *relayFixture {
	logger := zap.Must(zap.NewDevelopment())
	f := &relayFixture{
		as:       actorutil.NewActorSystemWithZapLogger(logger),
		cfg:      util.LoadTestConfig(),
		meter:    pzem004.CreateTestMeterReader(),
		actuator: relay.NewLogActuator(logger),
		es:       &eventstream.EventStream{},
		logger:   logger,
	}
	f.meterPID = f.as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMeterActor(f.meter, f.cfg.Serial.Timeout(), logger)
	}))
	t.Cleanup(f.as.Shutdown)
	return f
}

func (f *relayFixture) props() *actor.Props {
	return actor.PropsFromProducer(func() actor.Actor {
		return NewRelayControlActor(&f.cfg, f.meterPID, f.actuator, f.es, f.logger)
	})
}

func (f *relayFixture) outputs(start, stop bool) func() bool {
	return func() bool {
		return f.actuator.Start() == start && f.actuator.Stop() == stop
	}
}

func TestRelayControlFollowsCurrent(t *testing.T) {

	f := newRelayFixture(t)
	f.meter.SetCurrent(1.5)

	pid := f.as.Root.Spawn(f.props())

	assert.Eventually(t, f.outputs(true, false), 2*time.Second, 10*time.Millisecond, "running above upper threshold")

	res, err := f.as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health := res.(domain.ActorHealthResponse)
	assert.True(t, health.Healthy)
	assert.Equal(t, "running", health.State)

	f.meter.SetCurrent(0.5)
	assert.Eventually(t, f.outputs(false, true), 2*time.Second, 10*time.Millisecond, "idle below lower threshold")

	require.NoError(t, f.as.Root.StopFuture(pid).Wait())
	assert.False(t, f.actuator.Start())
	assert.False(t, f.actuator.Stop(), "outputs released on stop")
}

func TestRelayControlPublishesReadings(t *testing.T) {

	f := newRelayFixture(t)
	f.meter.SetCurrent(0.2)

	var mu sync.Mutex
	var readings []domain.ReadingEvent
	var states []domain.RelayStateEvent
	f.es.Subscribe(func(evt any) {
		mu.Lock()
		defer mu.Unlock()
		switch ev := evt.(type) {
		case domain.ReadingEvent:
			readings = append(readings, ev)
		case domain.RelayStateEvent:
			states = append(states, ev)
		}
	})

	pid := f.as.Root.Spawn(f.props())
	f.as.Root.Send(pid, domain.FullReadoutRequest{})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range readings {
			if r.Kind == domain.READING_ENERGY {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, domain.ActuatorIdle, states[0].State)
	assert.False(t, states[0].StartSignal)
	assert.False(t, states[0].StopSignal)
	values := map[domain.ReadingKind]float64{}
	for _, r := range readings {
		values[r.Kind] = r.Value
	}
	assert.Equal(t, 229.7, values[domain.READING_VOLTAGE])
	assert.Equal(t, 0.2, values[domain.READING_CURRENT])
	assert.Equal(t, float64(96), values[domain.READING_POWER])
}

func TestRelayControlReadErrorsKeepOutputs(t *testing.T) {

	f := newRelayFixture(t)
	f.meter.SetCurrent(2.0)

	pid := f.as.Root.Spawn(f.props())
	require.Eventually(t, f.outputs(true, false), 2*time.Second, 10*time.Millisecond)

	f.meter.FailNextCurrentReads(pzem004.ErrTimeout, pzem004.ErrChecksumMismatch, pzem004.ErrShortRead, pzem004.ErrTimeout)
	time.Sleep(600 * time.Millisecond)

	assert.True(t, f.actuator.Start())
	assert.False(t, f.actuator.Stop())

	res, err := f.as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)
}

func TestRelayControlEscalatesIOErrors(t *testing.T) {

	f := newRelayFixture(t)
	f.meter.SetCurrent(2.0)

	fatal := make(chan error, 1)
	children := make(chan *actor.PID, 1)
	terminated := make(chan struct{}, 1)
	parent := f.as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			children <- ctx.Spawn(f.props())
		case domain.ControlFatalEvent:
			fatal <- msg.Err
		case *actor.Terminated:
			terminated <- struct{}{}
		}
	}))
	defer f.as.Root.Stop(parent)
	child := <-children

	require.Eventually(t, f.outputs(true, false), 2*time.Second, 10*time.Millisecond)
	f.meter.FailNextCurrentReads(pzem004.ErrIO, pzem004.ErrIO, pzem004.ErrIO)

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, service.ErrIOEscalation)
		assert.ErrorIs(t, err, pzem004.ErrIO)
	case <-time.After(3 * time.Second):
		t.Fatal("no escalation")
	}
	assert.Eventually(t, f.outputs(false, false), time.Second, 10*time.Millisecond, "outputs released")

	// the parent decides when the loop goes away
	res, err := f.as.Root.RequestFuture(child, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	health := res.(domain.ActorHealthResponse)
	assert.False(t, health.Healthy)
	assert.Equal(t, "stopped", health.State)
	assert.Empty(t, terminated)

	f.as.Root.Stop(child)
	select {
	case <-terminated:
	case <-time.After(time.Second):
		t.Fatal("not terminated")
	}
}
