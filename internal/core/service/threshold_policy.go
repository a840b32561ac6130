package service

import (
	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/core/port"
)

// DefaultThresholdPolicy starts above Upper and stops below Lower. Values in
// [Lower, Upper] leave the outputs where they are.
type DefaultThresholdPolicy struct {
	Upper float64
	Lower float64
}

func (p DefaultThresholdPolicy) Decide(current float64) domain.RelayDecision {
	switch {
	case current > p.Upper:
		return domain.DecisionStart
	case current < p.Lower:
		return domain.DecisionStop
	default:
		return domain.DecisionHold
	}
}

// ensure interface compliance
var _ port.ThresholdPolicy = DefaultThresholdPolicy{}
