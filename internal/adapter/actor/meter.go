package actor

import (
	"fmt"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/util/actorutil"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// exchanges issued by a ReadAllRequest: readiness check plus four reads
const readAllExchanges = 5

// MeterActor owns the meter. Requests are served one at a time; anything
// received while an exchange is in flight is stashed. An exchange that
// overruns its deadline is answered with a timeout, but the next one only
// starts once it has returned. The meter outlives a restart of the actor and
// is closed on stop.
type MeterActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	meter    pzem004.MeterReader
	timeout  time.Duration
	lastErr  error
	inFlight bool
	replied  bool
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
	err     error
}

// exchangeDone is sent by the exchange goroutine when the meter call returns.
type exchangeDone struct {
}

// NewMeterActor takes the serial timeout of a single exchange.
func NewMeterActor(meter pzem004.MeterReader, timeout time.Duration, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		meter:    meter,
		timeout:  timeout,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@default started")
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case domain.ReadCurrentRequest:
		state.logger.Debug("meter@default: ReadCurrentRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		state.runTask(ctx, 1, pzem004.ReadCurrent.Name(), sender, func(err error) any {
			return domain.ReadCurrentResponse{
				ActorResponseMixIn: domain.ResponseError(err),
				At:                 time.Now(),
			}
		}, func() (any, error) {
			current, err := state.meter.ReadCurrent()
			if err != nil {
				return nil, err
			}
			return domain.ReadCurrentResponse{Current: current, At: time.Now()}, nil
		})
	case domain.ReadAllRequest:
		state.logger.Debug("meter@default: ReadAllRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		state.runTask(ctx, readAllExchanges, "read_all", sender, func(err error) any {
			return domain.ReadAllResponse{
				ActorResponseMixIn: domain.ResponseError(err),
				At:                 time.Now(),
			}
		}, func() (any, error) {
			readings, err := state.meter.ReadAll()
			if err != nil {
				return nil, err
			}
			return domain.ReadAllResponse{Readings: readings, At: time.Now()}, nil
		})
	case exchangeDone:
		// left over from a previous incarnation
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@WaitingMeter backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		state.lastErr = msg.err
		ctx.Send(msg.replyTo, msg.message)
		state.replied = true
		if state.inFlight {
			state.logger.Warn("meter@WaitingMeter draining abandoned exchange")
			return
		}
		state.leaveWaiting(ctx)
	case exchangeDone:
		state.inFlight = false
		if state.replied {
			state.leaveWaiting(ctx)
		}
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("meter@WaitingMeter stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// runTask performs fn off the actor loop and delivers a backgroundTaskResult to
// self. Errors, panics and deadline overruns are turned into a response by onError.
func (state *MeterActor) runTask(ctx actor.Context, exchanges int, command string, sender *actor.PID,
	onError func(error) any, fn func() (any, error)) {
	deadline := state.timeout*time.Duration(exchanges) + time.Second
	started := time.Now()
	root, self := ctx.ActorSystem().Root, ctx.Self()
	state.inFlight = true
	state.replied = false
	task := actorutil.NewBackgroundTask(ctx, func() (*any, error) {
		defer root.Send(self, exchangeDone{})
		msg, err := fn()
		if err != nil {
			return nil, err
		}
		return &msg, nil
	})
	actorutil.MapBackgroundTask(task, mapTaskResult(sender)).Recover(func(err error) backgroundTaskResult {
		if pzem004.KindOf(err) == pzem004.KIND_UNKNOWN && time.Since(started) >= deadline {
			err = &pzem004.ExchangeError{Command: command, Err: fmt.Errorf("%w: %w", pzem004.ErrTimeout, err)}
		}
		state.logger.Warn("meter: exchange failed", zap.String("command", command),
			zap.String("kind", pzem004.KindOf(err)), zap.Error(err))
		return backgroundTaskResult{
			message: onError(err),
			replyTo: sender,
			err:     err,
		}
	}).WithTimeout(deadline).PipeTo(ctx.Self())
	state.behavior.BecomeStacked(state.WaitingMeter)
}

func (state *MeterActor) leaveWaiting(ctx actor.Context) {
	state.replied = false
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MeterActor) health() domain.ActorHealthResponse {
	if state.lastErr != nil {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: false,
			State:   pzem004.KindOf(state.lastErr),
		}
	}
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_METER,
		Healthy: true,
		State:   "idle",
	}
}

func (state *MeterActor) close() {
	if err := state.meter.Close(); err != nil {
		state.logger.Warn("meter: close failed", zap.Error(err))
	}
}

func mapTaskResult(sender *actor.PID) func(t *any) *backgroundTaskResult {
	return func(t *any) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
