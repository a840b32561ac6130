package pzem004

import (
	"fmt"
	"sync"
	"time"
)

// ScriptedChannel replays canned responses. Each ReadExact consumes one step.

type ScriptedStep struct {
	Response []byte
	Err      error
}

type ScriptedChannel struct {
	mu       sync.Mutex
	steps    []ScriptedStep
	written  [][]byte
	writeErr error
	closed   bool
}

func NewScriptedChannel(steps ...ScriptedStep) *ScriptedChannel {
	return &ScriptedChannel{steps: steps}
}

func RespondWith(f ResponseFrame) ScriptedStep {
	return ScriptedStep{Response: f[:]}
}

func RespondRaw(b ...byte) ScriptedStep {
	return ScriptedStep{Response: b}
}

func FailWith(err error) ScriptedStep {
	return ScriptedStep{Err: err}
}

func (c *ScriptedChannel) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *ScriptedChannel) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return fmt.Errorf("%w: %v", ErrIO, c.writeErr)
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	c.written = append(c.written, frame)
	return nil
}

func (c *ScriptedChannel) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.steps) == 0 {
		return nil, fmt.Errorf("%w: no scripted response", ErrTimeout)
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	if len(step.Response) < n {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, len(step.Response), n)
	}
	return step.Response, nil
}

func (c *ScriptedChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *ScriptedChannel) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func (c *ScriptedChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TestMeterReader

type TestMeterReader struct {
	mu            sync.Mutex
	readings      Readings
	currentErrors []error
	readyErr      error
	closed        bool
}

func CreateTestMeterReader() *TestMeterReader {
	return &TestMeterReader{
		readings: Readings{
			Voltage:           229.7,
			Current:           0.42,
			Power:             96,
			AccumulatedEnergy: 15230,
		},
	}
}

func (r *TestMeterReader) SetCurrent(current float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings.Current = current
}

// FailNextCurrentReads makes the next ReadCurrent calls return errs in order.
func (r *TestMeterReader) FailNextCurrentReads(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentErrors = append(r.currentErrors, errs...)
}

func (r *TestMeterReader) SetReadyError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readyErr = err
}

func (r *TestMeterReader) IsReady() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readyErr != nil {
		return false, &ExchangeError{Command: SetAddress.Name(), Err: r.readyErr}
	}
	return true, nil
}

func (r *TestMeterReader) ReadVoltage() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readings.Voltage, nil
}

func (r *TestMeterReader) ReadCurrent() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.currentErrors) > 0 {
		err := r.currentErrors[0]
		r.currentErrors = r.currentErrors[1:]
		return 0, &ExchangeError{Command: ReadCurrent.Name(), Err: err}
	}
	return r.readings.Current, nil
}

func (r *TestMeterReader) ReadPower() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readings.Power, nil
}

func (r *TestMeterReader) ReadAccumulatedEnergy() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readings.AccumulatedEnergy, nil
}

func (r *TestMeterReader) ReadAll() (*Readings, error) {
	if _, err := r.IsReady(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	readings := r.readings
	return &readings, nil
}

func (r *TestMeterReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *TestMeterReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ensure interface compliance
var (
	_ Channel     = (*ScriptedChannel)(nil)
	_ MeterReader = (*TestMeterReader)(nil)
)
