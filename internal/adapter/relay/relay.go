package relay

import (
	"fmt"

	"github.com/relaywatch/pzem2mqtt/internal/config"
	"github.com/relaywatch/pzem2mqtt/internal/core/port"

	"go.uber.org/zap"
)

func NewActuator(cfg config.RelayConfig, logger *zap.Logger) (port.Actuator, error) {
	switch cfg.Driver {
	case config.RELAY_DRIVER_GPIO:
		return NewGPIOActuator(cfg.StartPin, cfg.StopPin, logger)
	case config.RELAY_DRIVER_NONE, "":
		return NewLogActuator(logger), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", cfg.Driver)
	}
}

// ensure interface compliance
var (
	_ port.Actuator = (*GPIOActuator)(nil)
	_ port.Actuator = (*LogActuator)(nil)
)
