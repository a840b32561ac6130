package monitor

import (
	"sync"
	"time"

	"github.com/relaywatch/pzem2mqtt/internal/core/domain"
	"github.com/relaywatch/pzem2mqtt/pkg/pzem004"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	ExchangeDuration *prometheus.HistogramVec
	ExchangeErrors   *prometheus.CounterVec
	ReadErrors       *prometheus.CounterVec
	Readings         *prometheus.GaugeVec
	LastReading      prometheus.Gauge
	RelayRunning     prometheus.Gauge
	RelaySignals     *prometheus.GaugeVec
	RelayTransitions prometheus.Counter

	mu        sync.Mutex
	lastState *domain.ActuatorState
}

// NewMetrics creates the collectors and registers them, together with the
// process and go runtime collectors, on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pzem_exchange_duration_seconds",
			Help:    "Duration of a request/response exchange with the meter",
			Buckets: []float64{.05, .1, .2, .3, .5, 1, 2, 5, 10},
		}, []string{"command"}),
		ExchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pzem_exchange_errors_total",
			Help: "Failed exchanges with the meter",
		}, []string{"command", "kind"}),
		ReadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pzem_control_read_errors_total",
			Help: "Failed reads seen by the control loop",
		}, []string{"kind"}),
		Readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pzem_reading",
			Help: "Last value read from the meter (V, A, W, Wh)",
		}, []string{"quantity"}),
		LastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pzem_last_reading_timestamp_seconds",
			Help: "Unix time of the last successful reading",
		}),
		RelayRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pzem_relay_running",
			Help: "1 when the actuator is in the running state",
		}),
		RelaySignals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pzem_relay_signal",
			Help: "Level of the relay output signals",
		}, []string{"signal"}),
		RelayTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pzem_relay_transitions_total",
			Help: "Actuator state changes",
		}),
	}
	reg.MustRegister(
		m.ExchangeDuration,
		m.ExchangeErrors,
		m.ReadErrors,
		m.Readings,
		m.LastReading,
		m.RelayRunning,
		m.RelaySignals,
		m.RelayTransitions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// MeterInstrument hooks the meter client exchanges into the metrics.
func (m *Metrics) MeterInstrument() *pzem004.MeterInstrument {
	return &pzem004.MeterInstrument{
		RecordTime: func(command string, exchangeTime time.Duration) {
			m.ExchangeDuration.WithLabelValues(command).Observe(exchangeTime.Seconds())
		},
		RecordError: func(command string, err error) {
			m.ExchangeErrors.WithLabelValues(command, pzem004.KindOf(err)).Inc()
		},
	}
}

// ObserveEvent is an event stream subscriber. It must stay cheap: it runs on
// the publisher goroutine.
func (m *Metrics) ObserveEvent(evt any) {
	switch msg := evt.(type) {
	case domain.ReadingEvent:
		m.Readings.WithLabelValues(string(msg.Kind)).Set(msg.Value)
		m.LastReading.Set(float64(msg.At.Unix()))
	case domain.ReadErrorEvent:
		m.ReadErrors.WithLabelValues(msg.Kind).Inc()
	case domain.RelayStateEvent:
		m.RelayRunning.Set(boolGauge(msg.State == domain.ActuatorRunning))
		m.observeState(msg.State)
		m.RelaySignals.WithLabelValues("start").Set(boolGauge(msg.StartSignal))
		m.RelaySignals.WithLabelValues("stop").Set(boolGauge(msg.StopSignal))
	}
}

func (m *Metrics) observeState(state domain.ActuatorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastState != nil && *m.lastState != state {
		m.RelayTransitions.Inc()
	}
	m.lastState = &state
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
