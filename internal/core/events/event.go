package events

import (
	. "github.com/relaywatch/pzem2mqtt/internal/core/domain"
)

func readingDecimals(kind ReadingKind) uint {
	switch kind {
	case READING_VOLTAGE:
		return 1
	case READING_CURRENT:
		return 2
	default:
		return 0
	}
}

func ReadingToUpdateEvents(ev ReadingEvent) []any {
	var events []any

	var id string
	switch ev.Kind {
	case READING_VOLTAGE:
		id = SENSOR_ID_VOLTAGE
	case READING_CURRENT:
		id = SENSOR_ID_CURRENT
	case READING_POWER:
		id = SENSOR_ID_POWER
	case READING_ENERGY:
		id = SENSOR_ID_ENERGY
	default:
		return events
	}

	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    ev.Value,
		Decimals: readingDecimals(ev.Kind),
	})

	return events
}

func RelayStateToUpdateEvents(ev RelayStateEvent) []any {
	var events []any

	// Relay state
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_RELAY_STATE,
		},
		Value: ev.State.String(),
	})
	// Start signal
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: BINARY_SENSOR_ID_START_SIGNAL,
		},
		Value: ev.StartSignal,
	})
	// Stop signal
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: BINARY_SENSOR_ID_STOP_SIGNAL,
		},
		Value: ev.StopSignal,
	})

	return events
}

// ToUpdateEvents converts any sink event into sensor update events. Unknown
// events give an empty slice.
func ToUpdateEvents(ev any) []any {
	switch msg := ev.(type) {
	case ReadingEvent:
		return ReadingToUpdateEvents(msg)
	case RelayStateEvent:
		return RelayStateToUpdateEvents(msg)
	default:
		return nil
	}
}
