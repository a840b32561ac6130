package relay

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// GPIOActuator drives the start and stop signals through two GPIO lines.
// High means asserted.
type GPIOActuator struct {
	start  gpio.PinIO
	stop   gpio.PinIO
	logger *zap.Logger
}

func NewGPIOActuator(startPin, stopPin string, logger *zap.Logger) (*GPIOActuator, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("gpio host init: %w", err)
	}
	start, err := lookupPin(startPin)
	if err != nil {
		return nil, err
	}
	stop, err := lookupPin(stopPin)
	if err != nil {
		return nil, err
	}
	return &GPIOActuator{start: start, stop: stop, logger: logger}, nil
}

func lookupPin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	return pin, nil
}

func (a *GPIOActuator) SetStart(on bool) error {
	return a.write(a.start, on)
}

func (a *GPIOActuator) SetStop(on bool) error {
	return a.write(a.stop, on)
}

func (a *GPIOActuator) write(pin gpio.PinIO, on bool) error {
	if err := pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("gpio %s: %w", pin.Name(), err)
	}
	a.logger.Debug("relay: gpio write", zap.String("pin", pin.Name()), zap.Bool("level", on))
	return nil
}
