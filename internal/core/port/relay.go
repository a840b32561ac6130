package port

import (
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
)

type ThresholdPolicy interface {
	Decide(current float64) domain.RelayDecision
}

// Actuator drives the two relay outputs. true asserts the signal.
type Actuator interface {
	SetStart(on bool) error
	SetStop(on bool) error
}

// ReadingSink takes events without blocking the caller.
// *eventstream.EventStream satisfies it.
type ReadingSink interface {
	Publish(evt any)
}
