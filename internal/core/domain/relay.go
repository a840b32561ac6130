package domain

import "time"

type ActuatorState int

const (
	ActuatorIdle ActuatorState = iota
	ActuatorRunning
)

func (s ActuatorState) String() string {
	switch s {
	case ActuatorRunning:
		return "running"
	default:
		return "idle"
	}
}

// Outputs returns the start/stop signal levels driven when a decision moves
// into the state. At startup and shutdown both signals are low instead.
func (s ActuatorState) Outputs() (start, stop bool) {
	if s == ActuatorRunning {
		return true, false
	}
	return false, true
}

type RelayDecision int

const (
	DecisionHold RelayDecision = iota
	DecisionStart
	DecisionStop
)

func (d RelayDecision) String() string {
	switch d {
	case DecisionStart:
		return "start"
	case DecisionStop:
		return "stop"
	default:
		return "hold"
	}
}

type ReadingKind string

const (
	READING_VOLTAGE ReadingKind = "voltage"
	READING_CURRENT ReadingKind = "current"
	READING_POWER   ReadingKind = "power"
	READING_ENERGY  ReadingKind = "energy"
)

// Reading sink events. Published on the event stream, consumed by MQTT and metrics.

type ReadingEvent struct {
	Kind  ReadingKind
	Value float64
	At    time.Time
}

type ReadErrorEvent struct {
	Command string
	Kind    string
	Err     error
	At      time.Time
}

type RelayStateEvent struct {
	State       ActuatorState
	StartSignal bool
	StopSignal  bool
	At          time.Time
}
