package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Serial: SerialConfig{
			Device:        "/dev/ttyUSB0",
			BaudRate:      9600,
			TimeoutMillis: 10000,
		},
		Control: ControlConfig{
			UpperThresholdAmp:      1.0,
			LowerThresholdAmp:      1.0,
			PollIntervalMillis:     1000,
			MaxConsecutiveIOErrors: 5,
		},
		Monitor: MonitorConfig{
			FullReadoutCron: "0/30 * * * * *",
		},
		Relay: RelayConfig{
			Driver:   RELAY_DRIVER_GPIO,
			StartPin: "GPIO20",
			StopPin:  "GPIO21",
		},
		MQTT: MQTTConfig{
			Enable:           true,
			BaseTopic:        "PZEM",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}

func TestValidConfig(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal("pzem", cfg.MQTT.BaseTopic, "base topic is lower cased")
	assert.Equal(int64(10000), cfg.Serial.Timeout().Milliseconds())
	assert.Equal(int64(1000), cfg.Control.PollInterval().Milliseconds())
}

func TestInvalidConfig(t *testing.T) {

	cases := map[string]func(c *Config){
		"missing device":       func(c *Config) { c.Serial.Device = "" },
		"zero baud rate":       func(c *Config) { c.Serial.BaudRate = 0 },
		"zero timeout":         func(c *Config) { c.Serial.TimeoutMillis = 0 },
		"lower above upper":    func(c *Config) { c.Control.LowerThresholdAmp = 2.0 },
		"negative threshold":   func(c *Config) { c.Control.LowerThresholdAmp = -1 },
		"poll interval":        func(c *Config) { c.Control.PollIntervalMillis = 10 },
		"bad cron":             func(c *Config) { c.Monitor.FullReadoutCron = "every minute" },
		"unknown relay driver": func(c *Config) { c.Relay.Driver = "sysfs" },
		"missing gpio pin":     func(c *Config) { c.Relay.StopPin = "" },
		"same gpio pins":       func(c *Config) { c.Relay.StopPin = c.Relay.StartPin },
		"bad base topic":       func(c *Config) { c.MQTT.BaseTopic = "pzem/meter" },
		"bad discovery topic":  func(c *Config) { c.MQTT.HADiscoveryTopic = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOptionalSections(t *testing.T) {

	cfg := validConfig()
	cfg.MQTT.Enable = false
	cfg.MQTT.BaseTopic = "not/checked"
	cfg.Monitor.FullReadoutCron = ""
	cfg.Relay = RelayConfig{Driver: RELAY_DRIVER_NONE}

	assert.NoError(t, cfg.Validate())
}

func TestEqualThresholdsAreAccepted(t *testing.T) {

	cfg := validConfig()
	cfg.Control.UpperThresholdAmp = 2.5
	cfg.Control.LowerThresholdAmp = 2.5

	assert.NoError(t, cfg.Validate())
}

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("Pzem_Meter1")
	assert.NoError(err)
	assert.Equal("pzem_meter1", topic)

	_, err = CheckMQTTTopic("pzem meter")
	assert.Error(err)
}
