package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/core/events"
	"github.com/relaywatch/pzem2mqtt/internal/mqtt"
	"github.com/relaywatch/pzem2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	publishErrors  uint
	observe        func(topic, payload string)
	logger         *zap.Logger
}

type MQTTConnected struct {
}

type MQTTConnectionLost struct {
	Error error
}

type OnEventStreamMessage struct {
	message any
}

type publishResult struct {
	Error error
}

type messagePublished struct {
	ReplyTo *actor.PID
	Error   error
}

type rawMessage struct {
	topic   string
	message string
	retain  bool
}

func NewMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// create MQTT client
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		// connect to MQTT server
		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Info("mqtt@starting connected", zap.String("host", state.config.MQTT.Host))

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		state.subscribe(ctx)

		// init completed, transition to default state
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(state.health())
	case OnEventStreamMessage:
		// receive message from event bus and publish to MQTT if needed
		for _, ev := range events.ToUpdateEvents(msg.message) {
			state.publishSensorValue(ctx, ev.(domain.SensorUpdateEvent), isRetained(msg.message))
		}
	case publishResult:
		state.onPublishResult(msg.Error)
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.String("topic", msg.Topic))
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		state.publishSensorValue(ctx, msg.Event, msg.Retain)
		if msg.ReplyToRef != nil {
			ctx.Send((*actor.PID)(msg.ReplyToRef), domain.PublishSensorUpdateResponse{})
		}
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishDiscoveryRequest", zap.Int("sensors", len(msg.Sensors)))
		err := state.PublishHomeAssistantDiscovery(ctx, msg.Sensors)
		if err != nil {
			state.logger.Error("mqtt@default PublishDiscoveryRequest error", zap.Error(err))
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTActor) subscribe(ctx actor.Context) {
	if state.eventStream == nil || state.eventStreamSub != nil {
		return
	}
	state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
		ctx.Send(ctx.Self(), OnEventStreamMessage{
			message: value,
		})
	})
}

// relay state is retained so late subscribers see the current outputs
func isRetained(event any) bool {
	_, ok := event.(domain.RelayStateEvent)
	return ok
}

func (state *MQTTActor) event2MQTTMessage(event any) *rawMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			message: bool2MQTTPayload(msg.Value),
		}
	case domain.TextSensorUpdateEvent:
		return &rawMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			message: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		var stringMessage string
		if msg.Value {
			stringMessage = mqtt.MQTT_PAYLOAD_ONLINE
		} else {
			stringMessage = mqtt.MQTT_PAYLOAD_OFFLINE
		}
		return &rawMessage{
			topic:   state.client.BridgeStateTopic(),
			message: stringMessage,
			retain:  true,
		}
	default:
		return nil
	}
}

// publishSensorValue does not wait for the broker ack: paho keeps the order
// of outgoing messages and the result is only logged.
func (state *MQTTActor) publishSensorValue(ctx actor.Context, event domain.SensorUpdateEvent, retain bool) {
	msg := state.event2MQTTMessage(event)
	if msg == nil {
		return
	}
	state.logger.Sugar().Debugf("mqtt@publish: sensor publish %s => %s", msg.topic, msg.message)
	state.client.Publish(msg.topic, msg.message, 1, msg.retain || retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{Error: err})
	}, 5*time.Second)
}

func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish: message publish %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		ctx.Send(ctx.Self(), messagePublished{ReplyTo: replyTo, Error: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.MessagePublishResultReceive)
}

func (state *MQTTActor) MessagePublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		state.onPublishResult(msg.Error)
	case messagePublished:
		state.onPublishResult(msg.Error)
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ResponseError(msg.Error),
			})
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case MQTTConnectionLost:
		state.logger.Error("mqtt@publishing connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) onPublishResult(err error) {
	if err != nil {
		state.publishErrors++
		state.logger.Error("mqtt@publishing could not publish a message", zap.Error(err))
		return
	}
	state.publishErrors = 0
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(ctx actor.Context, sensors []domain.GenericSensor) error {
	for i := range sensors {
		msg := mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i])
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		topic := state.client.HADiscoverySensorTopic(sensors[i])
		if state.observe != nil {
			state.observe(topic, string(payload))
			continue
		}
		state.client.Publish(topic, payload, 0, true, func(err error) {
			ctx.Send(ctx.Self(), publishResult{Error: err})
		}, 1*time.Second)
	}
	return nil
}

func (state *MQTTActor) health() domain.ActorHealthResponse {
	if state.publishErrors > 0 {
		return domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: false,
			State:   fmt.Sprintf("publish_errors=%d", state.publishErrors),
		}
	}
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MQTT,
		Healthy: true,
		State:   "idle",
	}
}

func (state *MQTTActor) stop() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client == nil || state.observe != nil {
		return
	}
	state.logger.Debug("mqtt: disconnect")
	state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
	state.client.Disconnect(500 * time.Millisecond)
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	} else {
		return mqtt.MQTT_PAYLOAD_OFF
	}
}

// NewTestMQTTActor never connects. Messages that would be published are handed
// to observe instead.
func NewTestMQTTActor(config *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger,
	observe func(topic, payload string)) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		eventStream: eventStream,
		observe:     observe,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
		state.subscribe(ctx)
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		ctx.Respond(state.health())
	case OnEventStreamMessage:
		for _, ev := range events.ToUpdateEvents(msg.message) {
			if raw := state.event2MQTTMessage(ev); raw != nil && state.observe != nil {
				state.observe(raw.topic, raw.message)
			}
		}
	case domain.PublishDiscoveryRequest:
		_ = state.PublishHomeAssistantDiscovery(ctx, msg.Sensors)
	case domain.PublishSensorUpdateRequest:
		if raw := state.event2MQTTMessage(msg.Event); raw != nil && state.observe != nil {
			state.observe(raw.topic, raw.message)
		}
		if msg.ReplyToRef != nil {
			ctx.Send((*actor.PID)(msg.ReplyToRef), domain.PublishSensorUpdateResponse{})
		}
	case domain.PublishMessageRequest:
		if state.observe != nil {
			state.observe(msg.Topic, msg.Payload)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
	}
}
