package actor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	adactor "github.com/relaywatch/pzem2mqtt/internal/adapter/actor"
	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/core/port"
	. "github.com/relaywatch/pzem2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type MeterActorProvider func() *adactor.MeterActor

// MasterActor spawns and supervises the other actors, aggregates their
// health and drives the full readout schedule.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	children           map[string]*actor.PID
	meterActorProvider MeterActorProvider
	mqttActorProvider  MQTTActorProvider
	actuator           port.Actuator
	readoutTrigger     *quartz.CronTrigger
	scheduler          *scheduler.TimerScheduler
	onFatal            func(error)
	failed             bool
	stopping           bool
	rootLogger         *zap.Logger
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected  int
	responses map[string]domain.ActorHealthResponse
	respondTo *actor.PID
}

type readoutTick struct {
}

// NewMasterActor builds the root of the actor tree. mqttActorProvider is nil
// when MQTT is disabled. onFatal is called once, from the actor goroutine, when
// the control loop cannot go on.
func NewMasterActor(config config.Config, eventStream *eventstream.EventStream, meterActorProvider MeterActorProvider,
	mqttActorProvider MQTTActorProvider, actuator port.Actuator, onFatal func(error), logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:             config,
		behavior:           actor.NewBehavior(),
		stash:              &Stash{},
		rootLogger:         logger,
		logger:             ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:        eventStream,
		children:           map[string]*actor.PID{},
		meterActorProvider: meterActorProvider,
		mqttActorProvider:  mqttActorProvider,
		actuator:           actuator,
		onFatal:            onFatal,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)

		// start meter child
		meterActorPID, err := state.startMeterActor(ctx)
		if err != nil {
			panic(err)
		}
		state.children[domain.ACTOR_ID_METER] = meterActorPID

		// start MQTT child
		if state.mqttActorProvider != nil {
			mqttActorPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.children[domain.ACTOR_ID_MQTT] = mqttActorPID
		}

		// start relay control child
		relayControlPID, err := state.startRelayControlActor(ctx)
		if err != nil {
			panic(err)
		}
		state.children[domain.ACTOR_ID_RELAY_CONTROL] = relayControlPID

		// start HA Discovery
		if state.mqttActorProvider != nil && state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		if err := state.startReadoutSchedule(ctx); err != nil {
			panic(err)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(len(state.children))
		state.currentHealthCheck.respondTo = ctx.Sender()
		for id, pid := range state.children {
			childId := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      childId,
					Healthy: false,
					State:   "unreachable",
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case readoutTick:
		state.logger.Debug("master@default readoutTick")
		if pid, ok := state.children[domain.ACTOR_ID_RELAY_CONTROL]; ok {
			ctx.Send(pid, domain.FullReadoutRequest{})
		}
		state.scheduleReadout(ctx)
	default:
		if !state.handleSupervision(ctx) {
			state.logger.Debug("master@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.responses[msg.Id] = msg
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		}
	default:
		if !state.handleSupervision(ctx) {
			state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
			state.stash.Stash(ctx, msg)
		}
	}
}

// handleSupervision deals with child failures in any state.
func (state *MasterActor) handleSupervision(ctx actor.Context) bool {
	switch msg := ctx.Message().(type) {
	case *actor.Stopping:
		state.stopping = true
	case domain.ControlFatalEvent:
		state.logger.Error("master: control loop failed", zap.Error(msg.Err))
		state.fatal(msg.Err)
		if pid, ok := state.children[domain.ACTOR_ID_RELAY_CONTROL]; ok {
			delete(state.children, domain.ACTOR_ID_RELAY_CONTROL)
			ctx.Stop(pid)
		}
	case *actor.Terminated:
		if state.stopping {
			return true
		}
		for id, pid := range state.children {
			if msg.Who != nil && pid.Id == msg.Who.Id {
				delete(state.children, id)
				// without the meter or the loop there is nothing left to do
				if id == domain.ACTOR_ID_METER || id == domain.ACTOR_ID_RELAY_CONTROL {
					state.logger.Error("master: child terminated", zap.String("child", id))
					state.fatal(fmt.Errorf("%s terminated", id))
				}
			}
		}
	default:
		return false
	}
	return true
}

func (state *MasterActor) fatal(err error) {
	if state.failed {
		return
	}
	state.failed = true
	if state.onFatal != nil {
		state.onFatal(err)
	}
}

func (state *MasterActor) startReadoutSchedule(ctx actor.Context) error {
	if state.config.Monitor.FullReadoutCron == "" {
		state.logger.Info("master: full readout disabled")
		return nil
	}
	trigger, err := quartz.NewCronTriggerWithLoc(state.config.Monitor.FullReadoutCron, time.Local)
	if err != nil {
		return fmt.Errorf("full readout cron: %w", err)
	}
	state.readoutTrigger = trigger
	state.scheduleReadout(ctx)
	return nil
}

func (state *MasterActor) scheduleReadout(ctx actor.Context) {
	if state.readoutTrigger == nil {
		return
	}
	now := time.Now()
	next, err := state.readoutTrigger.NextFireTime(now.UnixNano())
	if err != nil {
		state.logger.Error("master: no next full readout", zap.Error(err))
		return
	}
	delay := time.Unix(0, next).Sub(now)
	state.logger.Debug("master: next full readout", zap.Duration("in", delay))
	state.scheduler.RequestOnce(delay, ctx.Self(), readoutTick{})
}

func (state *MasterActor) startMeterActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return state.meterActorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(meterProps, domain.ACTOR_ID_METER)
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterActor) startRelayControlActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Error("master: relay control failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	meterActor := state.children[domain.ACTOR_ID_METER]
	relayProps := actor.PropsFromProducer(func() actor.Actor {
		return NewRelayControlActor(&state.config, meterActor, state.actuator, state.eventStream, state.rootLogger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(relayProps, domain.ACTOR_ID_RELAY_CONTROL)
}

func (state *MasterActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		state.logger.Warn("master: hadiscovery failure", zap.Any("reason", reason))
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	meterActor := state.children[domain.ACTOR_ID_METER]
	mqttActor := state.children[domain.ACTOR_ID_MQTT]
	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, meterActor, mqttActor, state.rootLogger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *healthCheckResult) reset(expected int) {
	state.expected = expected
	state.responses = map[string]domain.ActorHealthResponse{}
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return len(state.responses) >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	if !state.allReceived() {
		return false
	}
	for _, resp := range state.responses {
		if !resp.Healthy {
			return false
		}
	}
	return true
}

// summary renders the child states as "id=state" pairs sorted by id.
func (state *healthCheckResult) summary() string {
	parts := make([]string, 0, len(state.responses))
	for id, resp := range state.responses {
		parts = append(parts, fmt.Sprintf("%s=%s", id, resp.State))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.summary(),
	}
	if !resp.Healthy {
		resp.ActorResponseMixIn = domain.ResponseError(errors.New("unhealthy: " + resp.State))
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
