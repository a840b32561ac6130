package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/internal/core/port"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	"go.uber.org/zap"
)

var (
	ErrIOEscalation = errors.New("too many consecutive i/o errors")
	ErrActuator     = errors.New("actuator error")
)

// RelayController is the body of the control loop. It is not safe for
// concurrent use; the relay control actor is its only caller.
type RelayController struct {
	policy      port.ThresholdPolicy
	actuator    port.Actuator
	sink        port.ReadingSink
	maxIOErrors uint
	logger      *zap.Logger

	state    domain.ActuatorState
	start    bool
	stop     bool
	ioErrors uint
}

func NewRelayController(policy port.ThresholdPolicy, actuator port.Actuator, sink port.ReadingSink,
	maxIOErrors uint, logger *zap.Logger) *RelayController {
	return &RelayController{
		policy:      policy,
		actuator:    actuator,
		sink:        sink,
		maxIOErrors: maxIOErrors,
		logger:      logger,
		state:       domain.ActuatorIdle,
	}
}

// Init de-asserts both outputs and sets the state to Idle.
func (c *RelayController) Init(at time.Time) error {
	c.ioErrors = 0
	return c.release(at)
}

// Shutdown de-asserts both outputs. It is also used on failures, so both
// outputs are attempted even if the first one fails.
func (c *RelayController) Shutdown(at time.Time) error {
	return c.release(at)
}

// OnCurrent applies the threshold decision, then forwards the reading to the
// sink. Outputs are written on every Start/Stop decision, not only on state
// changes.
func (c *RelayController) OnCurrent(current float64, at time.Time) error {
	c.ioErrors = 0

	decision := c.policy.Decide(current)
	c.logger.Debug("relay_control: decision", zap.Float64("current", current), zap.Stringer("decision", decision))
	var err error
	switch decision {
	case domain.DecisionStart:
		err = c.apply(domain.ActuatorRunning, at)
	case domain.DecisionStop:
		err = c.apply(domain.ActuatorIdle, at)
	}

	c.sink.Publish(domain.ReadingEvent{
		Kind:  domain.READING_CURRENT,
		Value: current,
		At:    at,
	})
	return err
}

// OnReadings forwards a full readout to the sink. It does not drive the outputs.
func (c *RelayController) OnReadings(r *pzem004.Readings, at time.Time) {
	c.ioErrors = 0
	for _, ev := range ReadingsToEvents(r, at) {
		c.sink.Publish(ev)
	}
}

// OnReadError records a failed exchange. Outputs and state are left untouched.
// The returned error is non nil only when the consecutive i/o error limit is reached.
func (c *RelayController) OnReadError(err error, at time.Time) error {
	kind := pzem004.KindOf(err)
	c.sink.Publish(domain.ReadErrorEvent{
		Command: pzem004.CommandOf(err),
		Kind:    kind,
		Err:     err,
		At:      at,
	})
	if kind != pzem004.KIND_IO {
		c.logger.Warn("relay_control: read failed", zap.String("kind", kind), zap.Error(err))
		return nil
	}
	c.ioErrors++
	c.logger.Warn("relay_control: i/o error", zap.Uint("consecutive", c.ioErrors), zap.Error(err))
	if c.maxIOErrors > 0 && c.ioErrors >= c.maxIOErrors {
		return fmt.Errorf("%w (%d): %w", ErrIOEscalation, c.ioErrors, err)
	}
	return nil
}

func (c *RelayController) State() domain.ActuatorState {
	return c.state
}

func (c *RelayController) Outputs() (start, stop bool) {
	return c.start, c.stop
}

func (c *RelayController) apply(next domain.ActuatorState, at time.Time) error {
	if err := c.setOutputs(next.Outputs()); err != nil {
		return err
	}
	if next != c.state {
		c.logger.Info("relay_control: state changed", zap.Stringer("from", c.state), zap.Stringer("to", next))
		c.state = next
		c.publishState(at)
	}
	return nil
}

// setOutputs lowers a signal before raising the other one, so start and stop
// are never high together.
func (c *RelayController) setOutputs(start, stop bool) error {
	if start {
		if err := c.setStop(stop); err != nil {
			return err
		}
		return c.setStart(start)
	}
	if err := c.setStart(start); err != nil {
		return err
	}
	return c.setStop(stop)
}

func (c *RelayController) release(at time.Time) error {
	errStart := c.setStart(false)
	errStop := c.setStop(false)
	c.state = domain.ActuatorIdle
	c.publishState(at)
	return errors.Join(errStart, errStop)
}

func (c *RelayController) setStart(on bool) error {
	if err := c.actuator.SetStart(on); err != nil {
		return fmt.Errorf("%w: start signal: %w", ErrActuator, err)
	}
	c.start = on
	return nil
}

func (c *RelayController) setStop(on bool) error {
	if err := c.actuator.SetStop(on); err != nil {
		return fmt.Errorf("%w: stop signal: %w", ErrActuator, err)
	}
	c.stop = on
	return nil
}

func (c *RelayController) publishState(at time.Time) {
	c.sink.Publish(domain.RelayStateEvent{
		State:       c.state,
		StartSignal: c.start,
		StopSignal:  c.stop,
		At:          at,
	})
}

func ReadingsToEvents(r *pzem004.Readings, at time.Time) []domain.ReadingEvent {
	return []domain.ReadingEvent{
		{Kind: domain.READING_VOLTAGE, Value: r.Voltage, At: at},
		{Kind: domain.READING_CURRENT, Value: r.Current, At: at},
		{Kind: domain.READING_POWER, Value: float64(r.Power), At: at},
		{Kind: domain.READING_ENERGY, Value: float64(r.AccumulatedEnergy), At: at},
	}
}
