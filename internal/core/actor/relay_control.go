package actor

import (
	"fmt"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/core/port"
	"github.com/relaywatch/pzem2mqtt/internal/core/service"
	. "github.com/relaywatch/pzem2mqtt/internal/util/actorutil"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// RelayControlActor runs the control loop: one current read per poll
// interval, the threshold decision and the output writes. It is the only
// client of the meter actor.
type RelayControlActor struct {
	ActorWithStates
	scheduler    *scheduler.TimerScheduler
	cancelTick   scheduler.CancelFunc
	stash        *Stash
	meterActor   *actor.PID
	controller   *service.RelayController
	pollInterval time.Duration
	awaitTimeout time.Duration
	actuatorErr  error
	released     bool

	logger *zap.Logger
}

type controlTick struct {
}

func NewRelayControlActor(config *config.Config, meterActor *actor.PID, actuator port.Actuator, sink port.ReadingSink, logger *zap.Logger) *RelayControlActor {
	logger = ActorLogger(domain.ACTOR_ID_RELAY_CONTROL, logger)
	policy := service.DefaultThresholdPolicy{
		Upper: config.Control.UpperThresholdAmp,
		Lower: config.Control.LowerThresholdAmp,
	}
	act := &RelayControlActor{
		meterActor:   meterActor,
		stash:        &Stash{},
		logger:       logger,
		controller:   service.NewRelayController(policy, actuator, sink, config.Control.MaxConsecutiveIOErrors, logger),
		pollInterval: config.Control.PollInterval(),
		// a full readout is five exchanges; the meter actor gives up one second after them
		awaitTimeout: 5*config.Serial.Timeout() + 2*time.Second,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(RCStartingState{
		actor: act,
	})
	return act
}

func (state *RelayControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type RCStartingState struct {
	ActorState
	actor *RelayControlActor
}

func (state RCStartingState) Name() string {
	return "starting"
}

func (state RCStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("relay_control@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.released = false

		if err := state.actor.controller.Init(time.Now()); err != nil {
			state.actor.fail(ctx, err)
			return
		}
		state.actor.Become(RCControllingState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
		// first read right away
		ctx.Send(ctx.Self(), controlTick{})
	case *actor.Restarting:
		state.actor.release()
	case *actor.Stopping:
		state.actor.release()
	default:
		state.actor.logger.Debug("relay_control@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Controlling state. Its name follows the actuator state (idle or running).

type RCControllingState struct {
	ActorState
	actor *RelayControlActor
}

func (state RCControllingState) Name() string {
	return state.actor.controller.State().String()
}

func (state RCControllingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("relay_control@controlling: ActorHealthRequest")
		ctx.Respond(state.actor.health())
	case controlTick:
		state.actor.cancelTick = nil
		ctx.Request(state.actor.meterActor, domain.ReadCurrentRequest{})
		ctx.SetReceiveTimeout(state.actor.awaitTimeout)
		state.actor.BecomeStacked(RCAwaitCurrentState{
			actor: state.actor,
		})
	case domain.FullReadoutRequest:
		state.actor.logger.Debug("relay_control@controlling: FullReadoutRequest")
		ctx.Request(state.actor.meterActor, domain.ReadAllRequest{})
		ctx.SetReceiveTimeout(state.actor.awaitTimeout)
		state.actor.BecomeStacked(RCAwaitReadoutState{
			actor: state.actor,
		})
	case domain.ReadCurrentResponse, domain.ReadAllResponse:
		// late answer to a request that already timed out
		state.actor.logger.Debug("relay_control@controlling: stale response", zap.String("type", fmt.Sprintf("%T", msg)))
	case *actor.Restarting:
		state.actor.release()
	case *actor.Stopping:
		state.actor.release()
	default:
		state.actor.logger.Debug("relay_control@controlling: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Await current state (stacked)

type RCAwaitCurrentState struct {
	ActorState
	actor *RelayControlActor
}

func (state RCAwaitCurrentState) Name() string {
	return "awaitCurrent"
}

func (state RCAwaitCurrentState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReadCurrentResponse:
		ctx.SetReceiveTimeout(0)
		if msg.HasResponseError() {
			state.actor.onReadError(ctx, msg.GetResponseError(), msg.At)
		} else {
			state.actor.onCurrent(msg.Current, msg.At)
		}
		state.actor.resume(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		err := &pzem004.ExchangeError{Command: pzem004.ReadCurrent.Name(), Err: pzem004.ErrTimeout}
		state.actor.onReadError(ctx, err, time.Now())
		state.actor.resume(ctx)
	default:
		state.actor.awaiting(ctx, "awaitCurrent")
	}
}

// Await readout state (stacked)

type RCAwaitReadoutState struct {
	ActorState
	actor *RelayControlActor
}

func (state RCAwaitReadoutState) Name() string {
	return "awaitReadout"
}

func (state RCAwaitReadoutState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ReadAllResponse:
		ctx.SetReceiveTimeout(0)
		if msg.HasResponseError() {
			state.actor.onReadError(ctx, msg.GetResponseError(), msg.At)
		} else {
			state.actor.controller.OnReadings(msg.Readings, msg.At)
		}
		state.actor.leaveAwait(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		err := &pzem004.ExchangeError{Command: "read_all", Err: pzem004.ErrTimeout}
		state.actor.onReadError(ctx, err, time.Now())
		state.actor.leaveAwait(ctx)
	default:
		state.actor.awaiting(ctx, "awaitReadout")
	}
}

// Stopped state, entered after an escalation until the parent stops the actor.

type RCStoppedState struct {
	ActorState
	actor *RelayControlActor
}

func (state RCStoppedState) Name() string {
	return "stopped"
}

func (state RCStoppedState) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_RELAY_CONTROL,
			Healthy: false,
			State:   state.Name(),
		})
	case *actor.Stopping:
		state.actor.release()
	}
}

// awaiting handles what a waiting state does not consume itself.
func (state *RelayControlActor) awaiting(ctx actor.Context, stateName string) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case domain.FullReadoutRequest:
		// readouts queued behind a slow exchange collapse into one
		Drop[domain.FullReadoutRequest](state.stash)
		state.stash.Stash(ctx, msg)
	case *actor.Restarting:
		state.release()
	case *actor.Stopping:
		state.release()
	default:
		state.logger.Debug(fmt.Sprintf("relay_control@%s: stash", stateName), zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// resume leaves the await state and schedules the next tick.
func (state *RelayControlActor) resume(ctx actor.Context) {
	if state.released {
		return
	}
	state.cancelTick = state.scheduler.RequestOnce(state.pollInterval, ctx.Self(), controlTick{})
	state.leaveAwait(ctx)
}

func (state *RelayControlActor) leaveAwait(ctx actor.Context) {
	if state.released {
		return
	}
	state.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *RelayControlActor) onCurrent(current float64, at time.Time) {
	if err := state.controller.OnCurrent(current, at); err != nil {
		state.actuatorErr = err
		state.logger.Error("relay_control: actuator write failed", zap.Error(err))
		return
	}
	state.actuatorErr = nil
}

func (state *RelayControlActor) onReadError(ctx actor.Context, err error, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	if fatal := state.controller.OnReadError(err, at); fatal != nil {
		state.fail(ctx, fatal)
	}
}

// fail releases the outputs and reports to the parent, which stops the actor.
// Without a parent the actor stops itself.
func (state *RelayControlActor) fail(ctx actor.Context, err error) {
	state.logger.Error("relay_control: giving up", zap.Error(err))
	state.release()
	state.stash = &Stash{}
	state.Become(RCStoppedState{
		actor: state,
	})
	if ctx.Parent() == nil {
		ctx.Stop(ctx.Self())
		return
	}
	ctx.Send(ctx.Parent(), domain.ControlFatalEvent{Err: err})
}

func (state *RelayControlActor) release() {
	if state.released {
		return
	}
	state.released = true
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if err := state.controller.Shutdown(time.Now()); err != nil {
		state.logger.Error("relay_control: could not release outputs", zap.Error(err))
	}
}

func (state *RelayControlActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_RELAY_CONTROL,
		Healthy: state.actuatorErr == nil,
		State:   state.StateName(),
	}
}

// ensure interface compliance
var _ port.ReadingSink = (*eventstream.EventStream)(nil)
