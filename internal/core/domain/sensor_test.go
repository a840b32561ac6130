package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeterSensors(t *testing.T) {

	assert := assert.New(t)

	dev := MeterDevice("/dev/ttyUSB0")
	sensors := MeterSensors(dev)

	assert.Len(sensors, 4)
	assert.Equal(dev, sensors[0].Device, "first sensor carries the full device")
	for _, s := range sensors[1:] {
		assert.Equal(IdDevice(dev), s.Device)
	}
	assert.Equal("uid_"+dev.Id+"_current", sensors[1].UniqueId)
	assert.Equal(STATE_CLASS_TOTAL_INCREASING, sensors[3].StateClass)
}

func TestDeviceIdsAreStable(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(MeterDevice("/dev/ttyUSB0").Id, MeterDevice("/dev/ttyUSB0").Id)
	assert.NotEqual(MeterDevice("/dev/ttyUSB0").Id, MeterDevice("/dev/ttyUSB1").Id)
	assert.Equal(BridgeDevice("pzem").Id, BridgeDevice("pzem").Id)
}

func TestActuatorStateOutputs(t *testing.T) {

	assert := assert.New(t)

	start, stop := ActuatorRunning.Outputs()
	assert.True(start)
	assert.False(stop)

	start, stop = ActuatorIdle.Outputs()
	assert.False(start)
	assert.True(stop)

	assert.Equal("running", ActuatorRunning.String())
	assert.Equal("idle", ActuatorIdle.String())
	assert.Equal("hold", DecisionHold.String())
}
