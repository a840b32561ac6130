package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery configs once the
// meter and MQTT actors are up, then idles.
type HADiscoveryActor struct {
	config            *config.Config
	behavior          actor.Behavior
	stash             *actorutil.Stash
	meterActor        *actor.PID
	mqttActor         *actor.PID
	meterActorHealthy bool
	mqttActorHealthy  bool
	healthyRecv       int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, meterActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:     config,
		meterActor: meterActor,
		mqttActor:  mqttActor,
		behavior:   actor.NewBehavior(),
		stash:      &actorutil.Stash{},
		logger:     actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check meter and MQTT actor healthy
		state.healthyRecv = 0
		state.meterActorHealthy = false
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.ActorHealthRequest{}, 5*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_METER,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 15*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_METER:
				state.meterActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if !state.meterActorHealthy || !state.mqttActorHealthy {
				panic(errors.New("MQTT actor or meter actor are not healthy"))
			}
			sensors := state.discoverySensors()
			state.logger.Info("hadiscovery: publishing discovery", zap.Int("sensors", len(sensors)))
			ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
				Sensors: sensors,
			})
			state.behavior.Become(state.Done)
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {
	if _, ok := ctx.Message().(domain.ActorHealthRequest); ok {
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   "done",
		})
	}
}

func (state *HADiscoveryActor) discoverySensors() []domain.GenericSensor {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	meterDevice := domain.MeterDevice(state.config.Serial.Device)
	meterDevice.ViaDevice = bridgeDevice.Id
	sensors = append(sensors, domain.MeterSensors(meterDevice)...)
	sensors = append(sensors, domain.RelaySensors(meterDevice)...)

	return sensors
}
