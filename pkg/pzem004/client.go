package pzem004

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Client runs request/response exchanges over a Channel it owns.
// There are no retries: a failed exchange is reported as is.
type Client struct {
	channel    Channel
	timeout    time.Duration
	instrument []MeterInstrument
}

type MeterInstrument struct {
	RecordTime  func(command string, exchangeTime time.Duration)
	RecordError func(command string, err error)
}

func NewClient(channel Channel, timeout time.Duration, logger *zap.Logger, instrumentation *MeterInstrument) *Client {
	var inst []MeterInstrument
	if logger != nil {
		inst = append(inst, traceLoggerInstrumentation(logger.With(zap.String("target", "pzem004"))))
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &Client{
		channel:    channel,
		timeout:    timeout,
		instrument: inst,
	}
}

// CreateSerialMeterReader opens the serial device and returns a reader bound to it.
func CreateSerialMeterReader(cfg SerialConfig, logger *zap.Logger, instrumentation *MeterInstrument) (MeterReader, error) {
	channel, err := OpenSerialChannel(cfg)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("pzem004: serial channel open", zap.String("device", cfg.Device), zap.Int("baudRate", cfg.BaudRate))
	}
	return NewClient(channel, cfg.Timeout, logger, instrumentation), nil
}

// IsReady sends SetAddress. Any frame level failure is returned, never
// swallowed into false.
func (c *Client) IsReady() (bool, error) {
	if _, err := c.exchange(SetAddress); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) ReadVoltage() (float64, error) {
	f, err := c.exchange(ReadVoltage)
	if err != nil {
		return 0, err
	}
	return f.Voltage(), nil
}

func (c *Client) ReadCurrent() (float64, error) {
	f, err := c.exchange(ReadCurrent)
	if err != nil {
		return 0, err
	}
	return f.Current(), nil
}

func (c *Client) ReadPower() (uint32, error) {
	f, err := c.exchange(ReadPower)
	if err != nil {
		return 0, err
	}
	return f.Power(), nil
}

func (c *Client) ReadAccumulatedEnergy() (uint32, error) {
	f, err := c.exchange(ReadAccumulatedEnergy)
	if err != nil {
		return 0, err
	}
	return f.AccumulatedEnergy(), nil
}

// ReadAll checks readiness first and then reads the four quantities.
func (c *Client) ReadAll() (*Readings, error) {
	if _, err := c.IsReady(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	voltage, err := c.ReadVoltage()
	if err != nil {
		return nil, err
	}
	current, err := c.ReadCurrent()
	if err != nil {
		return nil, err
	}
	power, err := c.ReadPower()
	if err != nil {
		return nil, err
	}
	energy, err := c.ReadAccumulatedEnergy()
	if err != nil {
		return nil, err
	}
	return &Readings{
		Voltage:           voltage,
		Current:           current,
		Power:             power,
		AccumulatedEnergy: energy,
	}, nil
}

func (c *Client) Close() error {
	return c.channel.Close()
}

func (c *Client) exchange(cmd Command) (ResponseFrame, error) {
	defer RecordTimer(cmd.Name(), c.instrument)()
	f, err := c.roundTrip(cmd)
	if err != nil {
		err = &ExchangeError{Command: cmd.Name(), Err: err}
		recordError(cmd.Name(), err, c.instrument)
		return ResponseFrame{}, err
	}
	return f, nil
}

func (c *Client) roundTrip(cmd Command) (ResponseFrame, error) {
	if err := c.channel.Write(Encode(cmd)); err != nil {
		return ResponseFrame{}, err
	}
	rcv, err := c.channel.ReadExact(FrameSize, c.timeout)
	if err != nil {
		return ResponseFrame{}, err
	}
	return Decode(rcv)
}

func RecordTimer(name string, instrument []MeterInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			if instrument[i].RecordTime != nil {
				instrument[i].RecordTime(name, duration)
			}
		}
	}
}

func recordError(name string, err error, instrument []MeterInstrument) {
	for i := range instrument {
		if instrument[i].RecordError != nil {
			instrument[i].RecordError(name, err)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) MeterInstrument {
	return MeterInstrument{
		RecordTime: func(command string, exchangeTime time.Duration) {
			logger.Debug("pzem004 exchange", zap.String("command", command), zap.Int64("millis", exchangeTime.Milliseconds()))
		},
		RecordError: func(command string, err error) {
			logger.Debug("pzem004 exchange failed", zap.String("command", command), zap.String("kind", KindOf(err)), zap.Error(err))
		},
	}
}

// ensure interface compliance
var _ MeterReader = (*Client)(nil)
