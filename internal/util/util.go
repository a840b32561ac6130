package util

import (
	"github.com/relaywatch/pzem2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:        "/dev/ttyUSB0",
			BaudRate:      9600,
			TimeoutMillis: 500,
		},
		Control: config.ControlConfig{
			UpperThresholdAmp:      1.0,
			LowerThresholdAmp:      1.0,
			PollIntervalMillis:     100,
			MaxConsecutiveIOErrors: 3,
		},
		Monitor: config.MonitorConfig{
			FullReadoutCron: "",
		},
		Relay: config.RelayConfig{
			Driver:   config.RELAY_DRIVER_NONE,
			StartPin: "GPIO20",
			StopPin:  "GPIO21",
		},
		MQTT: config.MQTTConfig{
			Enable:           true,
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "pzem",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
