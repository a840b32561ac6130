package relay

import (
	"sync"

	"go.uber.org/zap"
)

// LogActuator only logs the output changes. It is used when no relay
// hardware is attached, and in tests.
type LogActuator struct {
	mu          sync.Mutex
	start, stop bool
	logger      *zap.Logger
}

func NewLogActuator(logger *zap.Logger) *LogActuator {
	return &LogActuator{logger: logger}
}

func (a *LogActuator) SetStart(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.start != on {
		a.logger.Info("relay: start signal", zap.Bool("on", on))
	}
	a.start = on
	return nil
}

func (a *LogActuator) SetStop(on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != on {
		a.logger.Info("relay: stop signal", zap.Bool("on", on))
	}
	a.stop = on
	return nil
}

func (a *LogActuator) Start() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.start
}

func (a *LogActuator) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop
}
