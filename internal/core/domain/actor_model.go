package domain

import (
	"time"

	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"
)

const (
	ACTOR_ID_MASTER        = "master"
	ACTOR_ID_METER         = "meter"
	ACTOR_ID_MQTT          = "mqtt"
	ACTOR_ID_RELAY_CONTROL = "relay_control"
	ACTOR_ID_HA_DISCOVERY  = "hadiscovery"
)

type ReadCurrentRequest struct {
	ActorRequestMixIn
}

type ReadCurrentResponse struct {
	ActorResponseMixIn
	Current float64
	At      time.Time
}

// ReadAllRequest checks meter readiness and reads every quantity.
type ReadAllRequest struct {
	ActorRequestMixIn
}

type ReadAllResponse struct {
	ActorResponseMixIn
	Readings *pzem004.Readings
	At       time.Time
}

// FullReadoutRequest is sent by the readout schedule. The control actor turns
// it into a ReadAllRequest so the meter keeps a single owner.
type FullReadoutRequest struct {
}

// ControlFatalEvent is sent by the control actor to its parent right before it stops.
type ControlFatalEvent struct {
	Err error
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
