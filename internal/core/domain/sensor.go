package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE        = "bridge"
	SENSOR_ID_VOLTAGE             = "voltage"
	SENSOR_ID_CURRENT             = "current"
	SENSOR_ID_POWER               = "power"
	SENSOR_ID_ENERGY              = "energy"
	SENSOR_ID_RELAY_STATE         = "relay_state"
	BINARY_SENSOR_ID_START_SIGNAL = "start_signal"
	BINARY_SENSOR_ID_STOP_SIGNAL  = "stop_signal"
	STATE_CLASS_MEASUREMENT       = "measurement"
	STATE_CLASS_TOTAL_INCREASING  = "total_increasing"
	DEVICE_CLASS_CURRENT          = "current"
	DEVICE_CLASS_ENERGY           = "energy"
	DEVICE_CLASS_POWER            = "power"
	DEVICE_CLASS_VOLTAGE          = "voltage"
	DEVICE_CLASS_CONNECTIVITY     = "connectivity"
	DEVICE_CLASS_RUNNING          = "running"
	ENTITY_CLASS_DIAGNOSTIC       = "diagnostic"
	SENSOR_TYPE_SENSOR            = "sensor"
	SENSOR_TYPE_BINARY            = "binary_sensor"
)

// Sensor update events, published to MQTT state topics

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// Sensor catalogue

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("pzem2mqtt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "pzem2mqtt",
		Model:        "pzem2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("pzem2mqtt %s", md5HashShort(baseTopic)),
	}
}

// MeterDevice identifies the meter by the serial device it hangs from; the
// protocol has no serial number query.
func MeterDevice(serialDevice string) Device {
	return Device{
		Id:           fmt.Sprintf("pzem004_%s", md5HashShort(serialDevice)),
		Manufacturer: "Peacefair",
		Model:        "PZEM-004",
		Name:         fmt.Sprintf("PZEM-004 %s", md5HashShort(serialDevice)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Bridge state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

// MeterSensors lists the measurement sensors. Only the first one carries the
// full device description.
func MeterSensors(meterDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// AC voltage
	sensors = append(sensors, GenericSensor{
		Device:            meterDevice,
		Id:                SENSOR_ID_VOLTAGE,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Voltage",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_VOLTAGE,
		UnitOfMeasurement: "V",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_VOLTAGE),
	})

	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(meterDevice),
		Id:                SENSOR_ID_CURRENT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Current",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_CURRENT),
	})

	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(meterDevice),
		Id:                SENSOR_ID_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_POWER),
	})

	// accumulated energy never decreases unless the meter is reset
	sensors = append(sensors, GenericSensor{
		Device:            IdDevice(meterDevice),
		Id:                SENSOR_ID_ENERGY,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Accumulated energy",
		StateClass:        STATE_CLASS_TOTAL_INCREASING,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(meterDevice.Id, SENSOR_ID_ENERGY),
	})

	return sensors
}

func RelaySensors(meterDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:     IdDevice(meterDevice),
		Id:         SENSOR_ID_RELAY_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Relay state",
		Icon:       "mdi:electric-switch",
		UniqueId:   uniqueId(meterDevice.Id, SENSOR_ID_RELAY_STATE),
	})

	sensors = append(sensors, GenericSensor{
		Device:           IdDevice(meterDevice),
		Id:               BINARY_SENSOR_ID_START_SIGNAL,
		SensorType:       SENSOR_TYPE_BINARY,
		Name:             "Start signal",
		DeviceClass:      DEVICE_CLASS_RUNNING,
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(meterDevice.Id, BINARY_SENSOR_ID_START_SIGNAL),
	})

	sensors = append(sensors, GenericSensor{
		Device:           IdDevice(meterDevice),
		Id:               BINARY_SENSOR_ID_STOP_SIGNAL,
		SensorType:       SENSOR_TYPE_BINARY,
		Name:             "Stop signal",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(meterDevice.Id, BINARY_SENSOR_ID_STOP_SIGNAL),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5HashShort(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
